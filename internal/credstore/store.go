// Package credstore implements spec.md §4.3: an encrypted, at-rest
// per-user session blob keyed by the IRC password the client
// authenticates with. The on-disk JSON shape and version tag are a
// compatibility contract (Design Notes, §4.3) and must not change.
package credstore

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/martinetd/matrirc/internal/errs"
	"github.com/martinetd/matrirc/internal/upstream"
)

// Version is the only accepted value of the on-disk blob's "version"
// field. Any other value is rejected outright (spec §4.3).
const Version = "argon2+chacha20poly1305"

const (
	saltLen = 32
	keyLen  = 32
	// argon2 parameters chosen for an interactive login path: a few
	// hundred milliseconds on commodity hardware.
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// blob is the on-disk JSON document.
type blob struct {
	Version    string `json:"version"`
	Ciphertext string `json:"ciphertext"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
}

// plaintext is what the ciphertext decrypts to.
type plaintext struct {
	Homeserver string            `json:"homeserver"`
	Session    upstream.Session `json:"session"`
}

// Store manages the on-disk credential blobs rooted at dir (spec.md §6:
// "<state_dir>/<nick>/session").
type Store struct {
	dir           string
	allowRegister bool
}

func New(stateDir string, allowRegister bool) *Store {
	return &Store{dir: stateDir, allowRegister: allowRegister}
}

func (s *Store) sessionPath(nick string) string {
	return filepath.Join(s.dir, nick, "session")
}

func deriveKey(pass string, salt []byte) []byte {
	return argon2.IDKey([]byte(pass), salt, argonTime, argonMemory, argonThreads, keyLen)
}

// CreateUser computes a fresh salt+nonce, derives a key from pass with
// Argon2, encrypts {homeserver, session} with XChaCha20-Poly1305, and
// writes the blob, refusing to overwrite an existing file (spec §4.3).
func (s *Store) CreateUser(nick, pass, homeserver string, session upstream.Session) error {
	plain, err := json.Marshal(plaintext{Homeserver: homeserver, Session: session})
	if err != nil {
		return errs.Wrap(errs.Invariant, "marshal session plaintext", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return errs.Wrap(errs.Invariant, "generate salt", err)
	}
	key := deriveKey(pass, salt)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return errs.Wrap(errs.Invariant, "init aead", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return errs.Wrap(errs.Invariant, "generate nonce", err)
	}
	ciphertext := aead.Seal(nil, nonce, plain, nil)

	b := blob{
		Version:    Version,
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
	}
	data, err := json.Marshal(b)
	if err != nil {
		return errs.Wrap(errs.Invariant, "marshal blob", err)
	}

	userDir := filepath.Join(s.dir, nick)
	if err := os.MkdirAll(userDir, 0700); err != nil {
		return errs.Wrap(errs.Transport, "mkdir user dir", err)
	}

	f, err := os.OpenFile(s.sessionPath(nick), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0400)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errs.Wrap(errs.Invariant, "session file already exists", err)
		}
		return errs.Wrap(errs.Transport, "create session file", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return errs.Wrap(errs.Transport, "write session file", err)
	}
	return nil
}

// ErrNoSession is returned by Login when no stored session exists for
// nick and new registration is allowed: the caller should fall through
// to interactive login (spec §4.3, §4.4 restore path).
var ErrNoSession = errors.New("credstore: no stored session")

// Login reads, parses and decrypts the stored blob for nick with pass.
// Failure taxonomy per spec §4.3: missing file maps to ErrNoSession (if
// registration is allowed) or an Auth error "unknown user"; malformed
// JSON/unsupported version are Protocol errors; decryption
// failure maps to an Auth error ("bad password").
func (s *Store) Login(nick, pass string) (string, upstream.Session, error) {
	data, err := os.ReadFile(s.sessionPath(nick))
	if errors.Is(err, os.ErrNotExist) {
		if s.allowRegister {
			return "", upstream.Session{}, ErrNoSession
		}
		return "", upstream.Session{}, errs.New(errs.Auth, fmt.Sprintf("unknown user %q", nick))
	} else if err != nil {
		return "", upstream.Session{}, errs.Wrap(errs.Transport, "read session file", err)
	}

	var b blob
	if err := json.Unmarshal(data, &b); err != nil {
		return "", upstream.Session{}, errs.Wrap(errs.Protocol, "malformed session file", err)
	}
	if b.Version != Version {
		return "", upstream.Session{}, errs.New(errs.Protocol, fmt.Sprintf("unsupported session version %q", b.Version))
	}

	salt, err := base64.StdEncoding.DecodeString(b.Salt)
	if err != nil {
		return "", upstream.Session{}, errs.Wrap(errs.Protocol, "decode salt", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(b.Nonce)
	if err != nil {
		return "", upstream.Session{}, errs.Wrap(errs.Protocol, "decode nonce", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(b.Ciphertext)
	if err != nil {
		return "", upstream.Session{}, errs.Wrap(errs.Protocol, "decode ciphertext", err)
	}

	key := deriveKey(pass, salt)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", upstream.Session{}, errs.Wrap(errs.Invariant, "init aead", err)
	}
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", upstream.Session{}, errs.New(errs.Auth, "bad password")
	}

	var p plaintext
	if err := json.Unmarshal(plain, &p); err != nil {
		return "", upstream.Session{}, errs.Wrap(errs.Protocol, "malformed decrypted session", err)
	}
	return p.Homeserver, p.Session, nil
}
