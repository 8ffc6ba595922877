package sqlinline

const QSelectJobStickers = `--sql eb038f08-7a0d-4c59-955e-bdac23e9a701
select id::text, job_id::text, emotion, status,
       coalesce(image_url, ''), coalesce(thumbnail_url, ''),
       pipeline, attempts, created_at, updated_at
from generated_stickers
where job_id = $1::uuid
order by created_at asc;
`

const QSelectSticker = `--sql 0aef6e75-9e0a-452a-a152-ad1e9c4a3266
select id::text, job_id::text, emotion, status,
       coalesce(image_url, ''), coalesce(thumbnail_url, ''),
       pipeline, attempts, created_at, updated_at
from generated_stickers
where job_id = $1::uuid
  and emotion = $2;
`

// Ready rows are final; the conflict branch leaves them untouched.
const QUpsertStickerPipeline = `--sql 493c7d51-ebb9-4600-9ff6-d1866f75425e
insert into generated_stickers (job_id, emotion, status, pipeline, attempts)
values ($1::uuid, $2, 'generating', $3::jsonb, $4)
on conflict (job_id, emotion) do update
set status = 'generating',
    pipeline = excluded.pipeline,
    attempts = excluded.attempts,
    image_url = null,
    thumbnail_url = null,
    updated_at = now()
where generated_stickers.status <> 'ready';
`

const QMarkStickerReady = `--sql 3a5c7282-dbac-44ce-9760-573548b368f5
insert into generated_stickers (job_id, emotion, status, image_url, thumbnail_url, pipeline, attempts)
values ($1::uuid, $2, 'ready', $3, $4, '{}'::jsonb, 1)
on conflict (job_id, emotion) do update
set status = 'ready',
    image_url = excluded.image_url,
    thumbnail_url = excluded.thumbnail_url,
    pipeline = '{}'::jsonb,
    updated_at = now();
`

const QMarkStickerSkipped = `--sql 969893ef-5602-42de-b1fd-230c525f381d
insert into generated_stickers (job_id, emotion, status, pipeline, attempts)
values ($1::uuid, $2, 'skipped', $3::jsonb, $4)
on conflict (job_id, emotion) do update
set status = 'skipped',
    pipeline = excluded.pipeline,
    attempts = excluded.attempts,
    image_url = null,
    thumbnail_url = null,
    updated_at = now()
where generated_stickers.status <> 'ready';
`
