package state

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"

	"go.step.sm/crypto/x25519"
	"golang.org/x/crypto/chacha20poly1305"
)

// Snapshot is the warm-restart file a node writes on graceful shutdown
// and reloads on the next start, spec.md §4.2/§4.7 ("graceful restart
// preserves adjacencies across a process bounce without a full
// resync storm, and a dynamically allocated prefix must survive one").
type Snapshot struct {
	NodeId          NodeId        `json:"node_id"`
	NodeLabel       uint32        `json:"node_label"`
	AllocatedPrefix *netip.Prefix `json:"allocated_prefix,omitempty"`
	LastSeenPeers   []NodeId      `json:"last_seen_peers"`
}

// signedSnapshot is the on-disk envelope: the snapshot payload, sealed
// with the node's persist key for at-rest confidentiality and signed
// over the sealed bytes so a corrupted or tampered warm-restart file is
// rejected rather than silently trusted on the next boot. Grounded on
// the teacher's state/distribution.go SignBundle/SealBundle pair, which
// signs first and then encrypts a config bundle the same way.
type signedSnapshot struct {
	Sealed    []byte `json:"sealed"`
	Signature []byte `json:"signature"`
	PublicKey []byte `json:"public_key"`
}

// PersistKeypair is the node-local keypair used to sign and seal its
// own warm-restart snapshots. It never leaves the node; PersistFile
// keeps it stable across restarts so a sealed snapshot written before a
// bounce can still be opened after it.
type PersistKeypair struct {
	Private x25519.PrivateKey
	Public  x25519.PublicKey
}

// NewPersistKeypair generates a fresh signing keypair.
func NewPersistKeypair() (PersistKeypair, error) {
	seed := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(seed); err != nil {
		return PersistKeypair{}, fmt.Errorf("generate persist keypair: %w", err)
	}
	return persistKeypairFromSeed(seed)
}

func persistKeypairFromSeed(seed []byte) (PersistKeypair, error) {
	priv := x25519.PrivateKey(seed)
	pub, err := priv.PublicKey()
	if err != nil {
		return PersistKeypair{}, fmt.Errorf("derive persist public key: %w", err)
	}
	return PersistKeypair{Private: priv, Public: pub}, nil
}

const persistKeyFileName = "persist.key"

// LoadOrCreatePersistKey loads the node's persist keypair from
// stateDir, generating and saving one on first boot. Keeping the seed
// stable across restarts is what lets SaveSnapshot's sealed envelope
// still be opened by LoadSnapshot after a process bounce.
func LoadOrCreatePersistKey(stateDir string) (PersistKeypair, error) {
	if err := os.MkdirAll(stateDir, 0o700); err != nil {
		return PersistKeypair{}, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, persistKeyFileName)
	raw, err := os.ReadFile(path)
	if err == nil {
		seed, decodeErr := base64.StdEncoding.DecodeString(string(raw))
		if decodeErr != nil || len(seed) != chacha20poly1305.KeySize {
			return PersistKeypair{}, fmt.Errorf("persist key file %s is corrupt", path)
		}
		return persistKeypairFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return PersistKeypair{}, fmt.Errorf("read persist key: %w", err)
	}

	seed := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(seed); err != nil {
		return PersistKeypair{}, fmt.Errorf("generate persist keypair: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(seed)), 0o600); err != nil {
		return PersistKeypair{}, fmt.Errorf("write persist key: %w", err)
	}
	return persistKeypairFromSeed(seed)
}

// SaveSnapshot writes snap to path, sealed and signed with key. Errors
// are non-fatal to the caller's shutdown sequence; a missing or
// unwritable snapshot only costs the next boot a full resync, spec.md
// §4.2.
func SaveSnapshot(path string, snap Snapshot, key PersistKeypair) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	sealed, err := sealPersisted(payload, key.Private)
	if err != nil {
		return fmt.Errorf("seal snapshot: %w", err)
	}
	sig, err := key.Private.Sign(rand.Reader, sealed, crypto.Hash(0))
	if err != nil {
		return fmt.Errorf("sign snapshot: %w", err)
	}
	env := signedSnapshot{
		Sealed:    sealed,
		Signature: sig,
		PublicKey: key.Public,
	}
	out, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot envelope: %w", err)
	}
	return os.WriteFile(path, out, 0o600)
}

// LoadSnapshot reads, verifies and opens a snapshot written by
// SaveSnapshot. A missing file is not an error: callers should treat
// it the same as a cold boot.
func LoadSnapshot(path string, key PersistKeypair) (Snapshot, bool, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("read snapshot: %w", err)
	}
	var env signedSnapshot
	if err := json.Unmarshal(raw, &env); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot envelope: %w", err)
	}
	if !x25519.Verify(env.PublicKey, env.Sealed, env.Signature) {
		return Snapshot{}, false, fmt.Errorf("snapshot signature verification failed")
	}
	payload, err := openPersisted(env.Sealed, key.Private)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("open snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot payload: %w", err)
	}
	return snap, true, nil
}

// sealPersisted and openPersisted encrypt the snapshot payload at
// rest, grounded on the teacher's SealBundle/OpenBundle pair
// (state/distribution.go) which uses the same XChaCha20-Poly1305
// construction to keep a config bundle private between two parties
// that share the key out of band; here the "two parties" are the same
// node across a restart, and the key is its own persist seed.
func sealPersisted(payload []byte, key x25519.PrivateKey) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, payload, nil), nil
}

func openPersisted(sealed []byte, key x25519.PrivateKey) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:chacha20poly1305.KeySize])
	if err != nil {
		return nil, err
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("sealed snapshot too short")
	}
	nonce, cipherText := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	return aead.Open(nil, nonce, cipherText, nil)
}
