package sqlinline

const QSelectOrderByJob = `--sql 8fdf7747-3e1f-45ed-ba86-93adea959577
select id::text, job_id::text, status, amount_cents, currency,
       coalesce(provider_order_id, ''), created_at, updated_at
from orders
where job_id = $1::uuid;
`

// A paid order keeps its status and amount when checkout is re-initiated.
const QUpsertPendingOrder = `--sql a8648e89-b0b2-450e-b326-d663305a8862
insert into orders (job_id, status, amount_cents, currency)
values ($1::uuid, 'pending', $2, $3)
on conflict (job_id) do update
set status = case when orders.status = 'paid' then orders.status else 'pending' end,
    amount_cents = case when orders.status = 'paid' then orders.amount_cents else excluded.amount_cents end,
    currency = case when orders.status = 'paid' then orders.currency else excluded.currency end,
    updated_at = now()
returning id::text, job_id::text, status, amount_cents, currency,
          coalesce(provider_order_id, ''), created_at, updated_at;
`

const QMarkOrderPaid = `--sql db6ab7ee-0cee-4ac6-a59a-68c63925fee6
insert into orders (job_id, status, amount_cents, currency, provider_order_id, paid_at)
values ($1::uuid, 'paid', $2, $3, nullif($4, ''), now())
on conflict (job_id) do update
set status = 'paid',
    amount_cents = case when excluded.amount_cents > 0 then excluded.amount_cents else orders.amount_cents end,
    currency = coalesce(nullif(excluded.currency, ''), orders.currency),
    provider_order_id = coalesce(excluded.provider_order_id, orders.provider_order_id),
    paid_at = coalesce(orders.paid_at, now()),
    updated_at = now()
returning id::text, job_id::text, status, amount_cents, currency,
          coalesce(provider_order_id, ''), created_at, updated_at;
`
