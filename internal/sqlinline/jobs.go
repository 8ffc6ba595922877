package sqlinline

const QInsertJob = `--sql eb308981-a9da-4a1a-ad44-3394740dfa30
insert into jobs (id, status, progress, source_image_url, style_key)
values ($1::uuid, 'pending', 0, $2, $3)
returning created_at, updated_at;
`

const QSelectJob = `--sql c4542414-76ed-44f1-8a1a-b9c041d02f72
select id::text, status, progress, source_image_url, style_key,
       coalesce(lock_token::text, ''), created_at, updated_at
from jobs
where id = $1::uuid;
`

// QAcquireJobLock takes the lock only when it is free or its heartbeat is
// older than $3 seconds.
const QAcquireJobLock = `--sql 6bbec2ce-4ee4-40b6-b4f7-934a00a0cf97
update jobs
set status = 'processing',
    lock_token = $2::uuid,
    updated_at = now()
where id = $1::uuid
  and status in ('pending', 'processing')
  and (lock_token is null or updated_at < now() - make_interval(secs => $3))
returning id::text, status, progress, source_image_url, style_key,
          coalesce(lock_token::text, ''), created_at, updated_at;
`

const QJobHeartbeat = `--sql 0c8a07bb-3b3e-4445-8575-aeb2946953bf
update jobs
set updated_at = now()
where id = $1::uuid
  and lock_token = $2::uuid
  and status = 'processing';
`

const QReleaseJobLock = `--sql 32953501-3dcc-4404-a953-0e40a6c21f7e
update jobs
set lock_token = null,
    updated_at = now()
where id = $1::uuid
  and lock_token = $2::uuid;
`

// QAdvanceJob increments progress from the expected value $3. Reaching $4
// makes the job terminal: completed when any sticker is ready, else failed.
const QAdvanceJob = `--sql 2e8732b1-047f-42b2-a61a-80412fd6cf20
update jobs
set progress = progress + 1,
    status = case
        when progress + 1 >= $4 then
            case when exists (
                select 1 from generated_stickers s
                where s.job_id = jobs.id and s.status = 'ready'
            ) then 'completed' else 'failed' end
        else 'processing'
    end,
    lock_token = case when progress + 1 >= $4 then null else lock_token end,
    updated_at = now()
where id = $1::uuid
  and lock_token = $2::uuid
  and progress = $3
  and status = 'processing'
returning id::text, status, progress, source_image_url, style_key,
          coalesce(lock_token::text, ''), created_at, updated_at;
`

const QFinishJob = `--sql 02724cf7-97fc-463b-b6bb-1d10204da011
update jobs
set status = $3,
    progress = greatest(progress, $4),
    lock_token = null,
    updated_at = now()
where id = $1::uuid
  and lock_token = $2::uuid
  and status = 'processing'
returning id::text, status, progress, source_image_url, style_key,
          coalesce(lock_token::text, ''), created_at, updated_at;
`

const QListStalledJobs = `--sql 3e043fc9-d6b3-47d0-a78a-51d92dc8e238
select j.id::text
from jobs j
join orders o on o.job_id = j.id
where o.status = 'paid'
  and j.status in ('pending', 'processing')
  and (j.lock_token is null or j.updated_at < now() - make_interval(secs => $1))
order by j.updated_at asc
limit $2;
`
