package session

import (
	"fmt"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeIdentityConflict   = "IDENTITY_CONFLICT"
	TextCodeLazyInitialization = "LAZY_INITIALIZATION"
	TextCodeStaleState         = "STALE_STATE"
	TextCodeEntityNotFound     = "ENTITY_NOT_FOUND"
	TextCodeTransientReference = "TRANSIENT_REFERENCE"
	TextCodeDetachedEntity     = "DETACHED_ENTITY"
	TextCodeSessionClosed      = "SESSION_CLOSED"
	TextCodeImmutableNaturalID = "IMMUTABLE_NATURAL_ID"
	TextCodeUnknownField       = "UNKNOWN_FIELD"
	TextCodeUnknownAssociation = "UNKNOWN_ASSOCIATION"
	TextCodeInvalidConfig      = "INVALID_CONFIG"
	TextCodeNotVersioned       = "NOT_VERSIONED"
	TextCodeMissingID          = "MISSING_ID"
)

// IdentityConflictError reports a second instance registered for a key already in the identity map.
func IdentityConflictError(entity string, id any) *errors.Error {
	return errors.New(fmt.Sprintf("another instance of %s#%v is already managed", entity, id), errors.CategoryConflict).
		WithTextCode(TextCodeIdentityConflict).
		WithMetadata(map[string]any{"entity": entity, "id": id})
}

// LazyInitializationError reports a deferred load attempted after the owning session ended.
func LazyInitializationError(what string) *errors.Error {
	return errors.New(fmt.Sprintf("cannot initialize %s: the session is closed or the owner is detached", what), errors.CategoryOperation).
		WithTextCode(TextCodeLazyInitialization).
		WithSeverity(errors.SeverityError)
}

// StaleStateError reports an optimistic lock failure. expected is the
// version the session held, nil for unversioned rows.
func StaleStateError(entity string, id any, expected any) *errors.Error {
	return errors.New(fmt.Sprintf("%s#%v was updated or deleted by another transaction", entity, id), errors.CategoryConflict).
		WithTextCode(TextCodeStaleState).
		WithSeverity(errors.SeverityWarning).
		WithMetadata(map[string]any{"entity": entity, "id": id, "expected_version": expected})
}

// EntityNotFoundError reports a missing backing row.
func EntityNotFoundError(entity string, id any) *errors.Error {
	return errors.New(fmt.Sprintf("%s#%v does not exist", entity, id), errors.CategoryNotFound).
		WithTextCode(TextCodeEntityNotFound).
		WithMetadata(map[string]any{"entity": entity, "id": id})
}

func transientReferenceError(entity, association, target string) *errors.Error {
	return errors.New(fmt.Sprintf("%s.%s references an unsaved %s; persist it first or cascade persist", entity, association, target), errors.CategoryBadInput).
		WithTextCode(TextCodeTransientReference).
		WithMetadata(map[string]any{"entity": entity, "association": association, "target": target})
}

func detachedEntityError(entity string, id any) *errors.Error {
	return errors.New(fmt.Sprintf("%s#%v is detached; use Merge or Reattach", entity, id), errors.CategoryBadInput).
		WithTextCode(TextCodeDetachedEntity)
}

func sessionClosedError() *errors.Error {
	return errors.New("session is closed", errors.CategoryOperation).WithTextCode(TextCodeSessionClosed)
}

func immutableNaturalIDError(entity string, id any, field string) *errors.Error {
	return errors.NewValidation(fmt.Sprintf("natural id of %s#%v is immutable", entity, id),
		errors.FieldError{Field: field, Message: "cannot change an immutable natural id"}).
		WithTextCode(TextCodeImmutableNaturalID)
}

func unknownFieldError(entity, field string) *errors.Error {
	return errors.New(fmt.Sprintf("%s has no field %q", entity, field), errors.CategoryBadInput).
		WithTextCode(TextCodeUnknownField)
}

func unknownAssociationError(entity, association string) *errors.Error {
	return errors.New(fmt.Sprintf("%s has no association %q of that kind", entity, association), errors.CategoryBadInput).
		WithTextCode(TextCodeUnknownAssociation)
}

func missingIDError(entity string) *errors.Error {
	return errors.New(fmt.Sprintf("%s uses assigned identifiers; set an id before persisting", entity), errors.CategoryBadInput).
		WithTextCode(TextCodeMissingID)
}

func notVersionedError(entity string) *errors.Error {
	return errors.New(fmt.Sprintf("%s is not versioned and cannot be locked optimistically", entity), errors.CategoryBadInput).
		WithTextCode(TextCodeNotVersioned)
}

// IsIdentityConflict reports whether err is an IdentityConflictError.
func IsIdentityConflict(err error) bool { return hasTextCode(err, TextCodeIdentityConflict) }

// IsLazyInitialization reports whether err is a LazyInitializationError.
func IsLazyInitialization(err error) bool { return hasTextCode(err, TextCodeLazyInitialization) }

// IsStaleState reports whether err is a StaleStateError.
func IsStaleState(err error) bool { return hasTextCode(err, TextCodeStaleState) }

// IsEntityNotFound reports whether err is an EntityNotFoundError.
func IsEntityNotFound(err error) bool { return hasTextCode(err, TextCodeEntityNotFound) }

func hasTextCode(err error, code string) bool {
	var perr *errors.Error
	return errors.As(err, &perr) && perr.TextCode == code
}
