package vault

import (
	"testing"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(_ *testing.T, me ledger.Party) Store { return NewMemory(me) })
}
