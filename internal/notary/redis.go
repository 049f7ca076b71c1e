package notary

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
	"github.com/ariefcatur/go-supplychain-ledger/internal/redisx"
)

// KEYS[1] position counter, KEYS[2] committed marker, KEYS[3..] spent markers.
// Replies {1, position} on commit, {0, idx, by, idx, by...} on conflict.
var submitScript = redis.NewScript(`
local done = redis.call('GET', KEYS[2])
if done then
  return {1, tonumber(done)}
end
local conflicts = {0}
for i = 3, #KEYS do
  local by = redis.call('GET', KEYS[i])
  if by then
    table.insert(conflicts, i - 3)
    table.insert(conflicts, by)
  end
end
if #conflicts > 1 then
  return conflicts
end
for i = 3, #KEYS do
  redis.call('SET', KEYS[i], ARGV[1])
end
local pos = redis.call('INCR', KEYS[1])
redis.call('SET', KEYS[2], pos)
return {1, pos}
`)

// Redis keeps spent markers in Redis; one script call checks and commits all
// inputs atomically.
type Redis struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (r *Redis) Submit(ctx context.Context, stx *ledger.SignedTransaction) (Receipt, error) {
	id, err := stx.ID()
	if err != nil {
		return Receipt{}, err
	}
	refs := stx.Tx.InputRefs()
	keys := make([]string, 0, len(refs)+2)
	keys = append(keys, redisx.KeyPosition, fmt.Sprintf(redisx.KeyCommitted, id))
	for _, ref := range refs {
		keys = append(keys, fmt.Sprintf(redisx.KeySpent, ref))
	}

	res, err := submitScript.Run(ctx, r.rdb, keys, string(id)).Slice()
	if err != nil {
		return Receipt{}, fmt.Errorf("notary submit %s: %w", id, err)
	}
	if len(res) < 2 {
		return Receipt{}, fmt.Errorf("notary submit %s: unexpected reply %v", id, res)
	}
	if ok, _ := res[0].(int64); ok == 1 {
		pos, _ := res[1].(int64)
		return Receipt{TxID: id, Position: uint64(pos)}, nil
	}

	cerr := &ConflictError{TxID: id}
	for i := 1; i+1 < len(res); i += 2 {
		idx, _ := res[i].(int64)
		by, _ := res[i+1].(string)
		if int(idx) < len(refs) {
			cerr.Conflicts = append(cerr.Conflicts, Conflict{Ref: refs[idx], ConsumedBy: ledger.TxID(by)})
		}
	}
	return Receipt{}, cerr
}
