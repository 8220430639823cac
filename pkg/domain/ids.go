package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "vicinity/pkg/domain-errors"
)

// Identity is an opaque, externally-authenticated account reference. The
// service never derives identities; they arrive already verified from the
// auth layer and are only ever compared for equality.
type Identity string

func (i Identity) String() string { return string(i) }

func (i Identity) IsZero() bool { return i == "" }

// ParseIdentity validates an identity string at a trust boundary. Identities
// are opaque but must be non-empty and free of surrounding whitespace.
func ParseIdentity(raw string) (Identity, error) {
	if raw == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity must not be empty")
	}
	if strings.TrimSpace(raw) != raw {
		return "", dErrors.New(dErrors.CodeInvalidInput, "identity must not contain surrounding whitespace")
	}
	return Identity(raw), nil
}

// PeerRef is an opaque reference to a neighbor. Neighbor references are
// supplied by callers, never derived, and carry no meaning to this service
// beyond equality.
type PeerRef string

func (p PeerRef) String() string { return string(p) }

// RegistryID identifies the singleton identity registry.
type RegistryID uuid.UUID

func NewRegistryID() RegistryID { return RegistryID(uuid.New()) }

func (id RegistryID) String() string { return uuid.UUID(id).String() }

func (id RegistryID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// RecordID identifies a user record (the mutable head-of-chain pointer).
type RecordID uuid.UUID

func NewRecordID() RecordID { return RecordID(uuid.New()) }

func (id RecordID) String() string { return uuid.UUID(id).String() }

func (id RecordID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseRecordID parses and validates a record ID from its string form.
// IDs must be valid, non-nil UUIDs.
func ParseRecordID(raw string) (RecordID, error) {
	parsed, err := parseUUID(raw)
	if err != nil {
		return RecordID{}, err
	}
	return RecordID(parsed), nil
}

// SnapshotID identifies a node snapshot in the append-only arena. IDs are
// allocated monotonically by the snapshot store; together with the rule that
// a snapshot's predecessor is always created earlier, this keeps every chain
// acyclic without extra bookkeeping.
type SnapshotID uint64

func parseUUID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return parsed, nil
}
