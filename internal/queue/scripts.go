package queue

import "github.com/redis/go-redis/v9"

// KEYS: paused, wait, job hash
// ARGV: id, payload, createdAt
var submitScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[3], 'id', ARGV[1], 'payload', ARGV[2], 'state', 'waiting', 'attempts', 0, 'createdAt', ARGV[3])
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// KEYS: paused, wait, active
// ARGV: job key prefix, processedAt, lockUntil, lock token
var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return false
end
local id = redis.call('RPOPLPUSH', KEYS[2], KEYS[3])
if not id then
  return false
end
local jk = ARGV[1] .. id
redis.call('HSET', jk, 'state', 'active', 'processedAt', ARGV[2], 'lockUntil', ARGV[3], 'lockToken', ARGV[4])
redis.call('HINCRBY', jk, 'attempts', 1)
return id
`)

// Pushes the lease of an active job forward. Returns -1 when the job does
// not exist, -2 when the caller no longer holds the lease, 0 when the job
// already finished, 1 on success.
// KEYS: job hash
// ARGV: lock token, lockUntil
var extendScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[1], 'state')
if not state then
  return -1
end
if state == 'waiting' then
  return -2
end
if state ~= 'active' then
  return 0
end
if redis.call('HGET', KEYS[1], 'lockToken') ~= ARGV[1] then
  return -2
end
redis.call('HSET', KEYS[1], 'lockUntil', ARGV[2])
return 1
`)

// Moves a job into a finished set. Returns -1 when the job does not exist,
// -2 when a token is given and the lease moved to another holder, 0 when
// its current state does not allow the transition, 1 on success.
// KEYS: active, wait, target set, job hash
// ARGV: id, new state, finishedAt, failedReason, allow-from-waiting flag, lock token
var finishScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[4], 'state')
if not state then
  return -1
end
if state == 'active' then
  if ARGV[6] ~= '' and redis.call('HGET', KEYS[4], 'lockToken') ~= ARGV[6] then
    return -2
  end
  redis.call('LREM', KEYS[1], 0, ARGV[1])
elseif state == 'waiting' then
  if ARGV[6] ~= '' then
    return -2
  end
  if ARGV[5] ~= '1' then
    return 0
  end
  redis.call('LREM', KEYS[2], 0, ARGV[1])
else
  return 0
end
redis.call('SADD', KEYS[3], ARGV[1])
redis.call('HSET', KEYS[4], 'state', ARGV[2], 'finishedAt', ARGV[3], 'failedReason', ARGV[4])
redis.call('HDEL', KEYS[4], 'lockUntil', 'lockToken')
return 1
`)

// Returns an active job to the head of the waiting list. Same result codes
// as finishScript.
// KEYS: active, wait, job hash
// ARGV: id, lock token
var releaseScript = redis.NewScript(`
local state = redis.call('HGET', KEYS[3], 'state')
if not state then
  return -1
end
if state ~= 'active' then
  if state == 'waiting' then
    return -2
  end
  return 0
end
if ARGV[2] ~= '' and redis.call('HGET', KEYS[3], 'lockToken') ~= ARGV[2] then
  return -2
end
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], 'state', 'waiting')
redis.call('HDEL', KEYS[3], 'lockUntil', 'lockToken')
return 1
`)

// Requeues active jobs whose lease expired. A job that stalled more than
// max-stalls times is failed instead. Returns {requeued, failed}.
// KEYS: active, wait, failed
// ARGV: job key prefix, now, max stalls (0 = unlimited)
var reclaimScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
local now = tonumber(ARGV[2])
local maxStalls = tonumber(ARGV[3])
local requeued = 0
local failed = 0
for _, id in ipairs(ids) do
  local jk = ARGV[1] .. id
  local lock = tonumber(redis.call('HGET', jk, 'lockUntil') or '0')
  if lock < now then
    redis.call('LREM', KEYS[1], 0, id)
    if redis.call('EXISTS', jk) == 1 then
      local stalls = redis.call('HINCRBY', jk, 'stalls', 1)
      redis.call('HDEL', jk, 'lockUntil', 'lockToken')
      if maxStalls > 0 and stalls > maxStalls then
        redis.call('SADD', KEYS[3], id)
        redis.call('HSET', jk, 'state', 'failed', 'finishedAt', ARGV[2], 'failedReason', 'job stalled more than ' .. ARGV[3] .. ' times')
        failed = failed + 1
      else
        redis.call('RPUSH', KEYS[2], id)
        redis.call('HSET', jk, 'state', 'waiting')
        requeued = requeued + 1
      end
    end
  end
end
return {requeued, failed}
`)

// KEYS: wait, active, completed, failed, job hash
// ARGV: id
var removeScript = redis.NewScript(`
redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('LREM', KEYS[2], 0, ARGV[1])
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('SREM', KEYS[4], ARGV[1])
return redis.call('DEL', KEYS[5])
`)

// Drops every waiting job. Returns the number dropped.
// KEYS: wait
// ARGV: job key prefix
var dropWaitingScript = redis.NewScript(`
local ids = redis.call('LRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  redis.call('DEL', ARGV[1] .. id)
end
redis.call('DEL', KEYS[1])
return #ids
`)
