// Package identity holds party key pairs and the directory used to check
// transaction signatures. Signatures cover the transaction ID.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ariefcatur/go-supplychain-ledger/internal/ledger"
)

var (
	ErrUnknownParty      = errors.New("unknown party")
	ErrBadSignature      = errors.New("invalid signature")
	ErrMissingSignatures = errors.New("missing signatures")
)

type Identity struct {
	Party ledger.Party
	key   ed25519.PrivateKey
}

func New(party ledger.Party) (Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate key for %s: %w", party, err)
	}
	return Identity{Party: party, key: priv}, nil
}

// FromSeed rebuilds an identity from a hex-encoded 32-byte seed.
func FromSeed(party ledger.Party, seedHex string) (Identity, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return Identity{}, fmt.Errorf("decode key seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return Identity{}, fmt.Errorf("key seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return Identity{Party: party, key: ed25519.NewKeyFromSeed(seed)}, nil
}

func (i Identity) PublicKey() ed25519.PublicKey { return i.key.Public().(ed25519.PublicKey) }

func (i Identity) Seed() string { return hex.EncodeToString(i.key.Seed()) }

func (i Identity) Sign(id ledger.TxID) []byte { return ed25519.Sign(i.key, []byte(id)) }

// SignTransaction adds this party's signature to stx.
func (i Identity) SignTransaction(stx *ledger.SignedTransaction) error {
	id, err := stx.ID()
	if err != nil {
		return err
	}
	stx.AddSignature(i.Party, i.Sign(id))
	return nil
}

type Directory interface {
	PublicKey(ledger.Party) (ed25519.PublicKey, bool)
}

// StaticDirectory is a fixed, in-process set of known parties.
type StaticDirectory struct {
	mu   sync.RWMutex
	keys map[ledger.Party]ed25519.PublicKey
}

func NewStaticDirectory(ids ...Identity) *StaticDirectory {
	d := &StaticDirectory{keys: map[ledger.Party]ed25519.PublicKey{}}
	for _, id := range ids {
		d.Register(id.Party, id.PublicKey())
	}
	return d
}

func (d *StaticDirectory) Register(p ledger.Party, key ed25519.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys[p] = key
}

func (d *StaticDirectory) PublicKey(p ledger.Party) (ed25519.PublicKey, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	k, ok := d.keys[p]
	return k, ok
}

// ParsePeers reads "Name=hexkey,Other=hexkey" into d.
func (d *StaticDirectory) ParsePeers(list string) error {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, keyHex, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("peer entry %q: want Name=hexkey", entry)
		}
		key, err := hex.DecodeString(strings.TrimSpace(keyHex))
		if err != nil || len(key) != ed25519.PublicKeySize {
			return fmt.Errorf("peer %s: bad public key", name)
		}
		d.Register(ledger.Party(strings.TrimSpace(name)), ed25519.PublicKey(key))
	}
	return nil
}

// VerifySignatures checks every signature present on stx. With requireAll
// set, every declared signer must also have signed.
func VerifySignatures(dir Directory, stx *ledger.SignedTransaction, requireAll bool) error {
	id, err := stx.ID()
	if err != nil {
		return err
	}
	required := map[ledger.Party]bool{}
	for _, p := range stx.Tx.Signers {
		required[p] = true
	}
	for p, sig := range stx.Signatures {
		if !required[p] {
			return fmt.Errorf("%w: %s is not a declared signer", ErrBadSignature, p)
		}
		key, ok := dir.PublicKey(p)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParty, p)
		}
		if !ed25519.Verify(key, []byte(id), sig) {
			return fmt.Errorf("%w: %s on %s", ErrBadSignature, p, id)
		}
	}
	if requireAll {
		if missing := stx.Missing(); len(missing) > 0 {
			return fmt.Errorf("%w: %v", ErrMissingSignatures, missing)
		}
	}
	return nil
}
