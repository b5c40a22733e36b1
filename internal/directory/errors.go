package directory

import (
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"
)

// Category buckets directory errors by how callers should react.
type Category string

const (
	CategoryConnection     Category = "connection"
	CategoryAuthentication Category = "authentication"
	CategoryNotFound       Category = "not_found"
	CategoryConflict       Category = "conflict"
	CategoryValidation     Category = "validation"
	CategorySizeLimit      Category = "size_limit"
	CategoryServer         Category = "server"
	CategoryUnknown        Category = "unknown"
)

// Error wraps a failed directory operation with its category and, when
// available, the LDAP result code.
type Error struct {
	Operation string
	Category  Category
	Code      uint16
	DN        string
	Cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("directory %s failed", e.Operation)
	if e.Code > 0 {
		msg = fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	if e.DN != "" {
		msg = fmt.Sprintf("%s: dn=%s", msg, e.DN)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// WrapError categorizes err as the failure of the named operation.
// A nil err wraps to nil.
func WrapError(operation, dn string, err error) error {
	if err == nil {
		return nil
	}
	var already *Error
	if errors.As(err, &already) {
		return err
	}
	derr := &Error{Operation: operation, DN: dn, Cause: err, Category: CategoryUnknown}
	var lerr *ldap.Error
	if errors.As(err, &lerr) {
		derr.Code = lerr.ResultCode
		derr.Category = categorize(lerr.ResultCode)
	}
	return derr
}

func categorize(code uint16) Category {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired:
		return CategoryAuthentication
	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute:
		return CategoryNotFound
	case ldap.LDAPResultEntryAlreadyExists,
		ldap.LDAPResultAttributeOrValueExists:
		return CategoryConflict
	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultInvalidDNSyntax,
		ldap.LDAPResultObjectClassViolation,
		ldap.LDAPResultNamingViolation:
		return CategoryValidation
	case ldap.LDAPResultSizeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return CategorySizeLimit
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded:
		return CategoryServer
	case ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return CategoryConnection
	default:
		return CategoryUnknown
	}
}

// CategoryOf returns the category of err, CategoryUnknown for non-
// directory errors.
func CategoryOf(err error) Category {
	var derr *Error
	if errors.As(err, &derr) {
		return derr.Category
	}
	var lerr *ldap.Error
	if errors.As(err, &lerr) {
		return categorize(lerr.ResultCode)
	}
	return CategoryUnknown
}

// IsNotFound reports whether err indicates a missing entry.
func IsNotFound(err error) bool {
	return CategoryOf(err) == CategoryNotFound
}

// IsConflict reports whether err indicates an already-existing entry
// or value.
func IsConflict(err error) bool {
	return CategoryOf(err) == CategoryConflict
}

// IsAuthFailure reports whether err indicates rejected credentials.
func IsAuthFailure(err error) bool {
	return CategoryOf(err) == CategoryAuthentication
}

// IsSizeLimitExceeded reports whether err indicates the server stopped
// a search at its size limit.
func IsSizeLimitExceeded(err error) bool {
	return CategoryOf(err) == CategorySizeLimit
}
