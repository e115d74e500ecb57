package tempest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

var (
	// ErrItemNotFound is returned when an item is not found in DynamoDB operations.
	ErrItemNotFound = errors.New("item not found")

	// ErrSchemaBinding matches every *SchemaBindingError.
	ErrSchemaBinding = errors.New("schema binding error")

	// ErrDuplicateWriteSetEntry is returned when the same item or key is added
	// twice to one role of a write set.
	ErrDuplicateWriteSetEntry = errors.New("duplicate write set entry")

	// ErrConditionalCheckFailed is returned when a single-item conditional save
	// or delete fails its condition expression.
	ErrConditionalCheckFailed = errors.New("conditional check failed")

	// ErrPagerInvariant is returned when a finished page holds more operations
	// than the pager's maximum transaction size.
	ErrPagerInvariant = errors.New("pager invariant violation")

	// ErrPagerStalled is returned when a page makes no progress.
	ErrPagerStalled = errors.New("pager made no progress")

	// ErrPrefixMismatch is returned when a prefixed attribute does not start
	// with the prefix its codec expects.
	ErrPrefixMismatch = errors.New("prefix mismatch")

	// ErrMissingAttribute is returned when a required attribute is absent from a row.
	ErrMissingAttribute = errors.New("missing required attribute")

	// ErrUnregisteredType is returned when a value's type is not bound to any table.
	ErrUnregisteredType = errors.New("unregistered type")

	// ErrTransactionTooLarge is returned when a transaction holds more than
	// MaxTransactionItems operations.
	ErrTransactionTooLarge = errors.New("transaction too large")

	// ErrRangeKeyRequired is returned when a range condition is used on an index without a range key.
	ErrRangeKeyRequired = errors.New("range key required")

	// ErrUnprocessedKeys is returned with partial results when a batch load
	// still has unprocessed keys after its retries.
	ErrUnprocessedKeys = errors.New("unprocessed keys")

	// ErrInvalidWorker is returned for scan workers whose segment is out of range.
	ErrInvalidWorker = errors.New("invalid scan worker")

	// ErrInvalidPageSize is returned for page sizes DynamoDB cannot represent.
	ErrInvalidPageSize = errors.New("invalid page size")
)

// BindingErrorKind classifies schema binding failures.
type BindingErrorKind int

const (
	MissingHashKey BindingErrorKind = iota + 1
	MissingRangeKey
	UnknownAttribute
	TypeMismatch
	UnknownIndex
	AmbiguousDirective
	MissingPrefix
	UnexpectedPrefix
	PrefixNotString
	DuplicateAttribute
	MisplacedDirective
	NotConstructible
	AlreadyBound
)

var bindingErrorKindNames = map[BindingErrorKind]string{
	MissingHashKey:     "missing hash key",
	MissingRangeKey:    "missing range key",
	UnknownAttribute:   "unknown attribute",
	TypeMismatch:       "type mismatch",
	UnknownIndex:       "unknown index",
	AmbiguousDirective: "ambiguous directive",
	MissingPrefix:      "missing prefix",
	UnexpectedPrefix:   "unexpected prefix",
	PrefixNotString:    "prefix on non-string field",
	DuplicateAttribute: "duplicate attribute",
	MisplacedDirective: "misplaced directive",
	NotConstructible:   "not constructible",
	AlreadyBound:       "already bound",
}

func (k BindingErrorKind) String() string {
	if name, ok := bindingErrorKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("BindingErrorKind(%d)", int(k))
}

// SchemaBindingError describes why a record, key or offset type cannot be
// bound to a physical row shape.
type SchemaBindingError struct {
	Kind      BindingErrorKind
	Type      reflect.Type // type being bound
	Field     string       // offending field, if any
	Attribute string       // offending physical attribute, if any
	Index     string       // secondary index, if any
	Available []string     // valid attribute names, for UnknownAttribute
	Other     string       // conflicting declaration, for TypeMismatch, MisplacedDirective and AlreadyBound
	Msg       string
}

func (e *SchemaBindingError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Type != nil {
		b.WriteString(": ")
		b.WriteString(typeName(e.Type))
		if e.Field != "" {
			b.WriteByte('.')
			b.WriteString(e.Field)
		}
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Available) > 0 {
		b.WriteString(" (available attributes: ")
		b.WriteString(strings.Join(e.Available, ", "))
		b.WriteByte(')')
	}
	return b.String()
}

// Is reports whether target is ErrSchemaBinding.
func (e *SchemaBindingError) Is(target error) bool {
	return target == ErrSchemaBinding
}

// IsBindingError reports whether err is a *SchemaBindingError of the given kind.
func IsBindingError(err error, kind BindingErrorKind) bool {
	var be *SchemaBindingError
	return errors.As(err, &be) && be.Kind == kind
}

// TransactionCancelledError is returned when DynamoDB cancels a write
// transaction. The message lists every operation of the transaction by key;
// non-key attributes are never included.
type TransactionCancelledError struct {
	Operations []string
	Reasons    []types.CancellationReason
	Err        error
}

func (e *TransactionCancelledError) Error() string {
	msg := e.Err.Error()
	var tce *types.TransactionCanceledException
	if errors.As(e.Err, &tce) {
		msg = tce.ErrorMessage()
	}
	return fmt.Sprintf("write transaction failed: [%s]: %s", strings.Join(e.Operations, ", "), msg)
}

func (e *TransactionCancelledError) Unwrap() error {
	return e.Err
}

func typeName(t reflect.Type) string {
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf) || apiErrorCode(err) == "ConditionalCheckFailedException"
}

func isTransactionCanceled(err error) bool {
	var tce *types.TransactionCanceledException
	return errors.As(err, &tce) || apiErrorCode(err) == "TransactionCanceledException"
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}
