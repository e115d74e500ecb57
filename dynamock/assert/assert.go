// Package assert provides fluent assertions over physical DynamoDB rows and
// the transactions recorded by dynamock.MemoryClient.
package assert

import (
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	tempest "github.com/cashapp/tempest-sub001"
)

// ItemsAssertion provides fluent assertions for a list of rows.
type ItemsAssertion struct {
	t     testing.TB
	items []tempest.Item
}

// Items creates a new ItemsAssertion for the given rows.
func Items(t testing.TB, items []tempest.Item) *ItemsAssertion {
	return &ItemsAssertion{t: t, items: items}
}

// HasCount asserts that there are exactly expected rows.
func (a *ItemsAssertion) HasCount(expected int) *ItemsAssertion {
	a.t.Helper()
	if len(a.items) != expected {
		a.t.Errorf("expected %d items, got %d", expected, len(a.items))
	}
	return a
}

// IsEmpty asserts that there are no rows.
func (a *ItemsAssertion) IsEmpty() *ItemsAssertion {
	a.t.Helper()
	return a.HasCount(0)
}

// IsNotEmpty asserts that there is at least one row.
func (a *ItemsAssertion) IsNotEmpty() *ItemsAssertion {
	a.t.Helper()
	if len(a.items) == 0 {
		a.t.Error("expected items to be non-empty")
	}
	return a
}

// Contains asserts that some row has every given string attribute, passed as
// name/value pairs.
func (a *ItemsAssertion) Contains(pairs ...string) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if matches(item, pairs) {
			return a
		}
	}
	a.t.Errorf("expected a row with %v", pairs)
	return a
}

// NotContains asserts that no row has every given string attribute.
func (a *ItemsAssertion) NotContains(pairs ...string) *ItemsAssertion {
	a.t.Helper()
	for _, item := range a.items {
		if matches(item, pairs) {
			a.t.Errorf("expected no row with %v", pairs)
			break
		}
	}
	return a
}

// AllHavePrefix asserts that every row stores a string attribute starting
// with prefix.
func (a *ItemsAssertion) AllHavePrefix(attr, prefix string) *ItemsAssertion {
	a.t.Helper()
	for i, item := range a.items {
		if v, ok := stringValue(item, attr); !ok || !strings.HasPrefix(v, prefix) {
			a.t.Errorf("item %d: expected %s to start with %q, got %q", i, attr, prefix, v)
		}
	}
	return a
}

// NoneHaveAttribute asserts that no row stores attr.
func (a *ItemsAssertion) NoneHaveAttribute(attr string) *ItemsAssertion {
	a.t.Helper()
	for i, item := range a.items {
		if _, ok := item[attr]; ok {
			a.t.Errorf("item %d: unexpected attribute %s", i, attr)
		}
	}
	return a
}

func matches(item tempest.Item, pairs []string) bool {
	for i := 0; i+1 < len(pairs); i += 2 {
		if v, ok := stringValue(item, pairs[i]); !ok || v != pairs[i+1] {
			return false
		}
	}
	return true
}

func stringValue(item tempest.Item, attr string) (string, bool) {
	s, ok := item[attr].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// ItemAssertion provides fluent assertions for one row.
type ItemAssertion struct {
	t    testing.TB
	item tempest.Item
}

// Item creates a new ItemAssertion for the given row.
func Item(t testing.TB, item tempest.Item) *ItemAssertion {
	return &ItemAssertion{t: t, item: item}
}

// HasAttribute asserts that the row stores attr as the string expected.
func (a *ItemAssertion) HasAttribute(attr, expected string) *ItemAssertion {
	a.t.Helper()
	if _, exists := a.item[attr]; !exists {
		a.t.Errorf("item missing attribute %s", attr)
	} else if v, ok := stringValue(a.item, attr); !ok {
		a.t.Errorf("attribute %s is not a string", attr)
	} else if v != expected {
		a.t.Errorf("attribute %s expected %s, got %s", attr, expected, v)
	}
	return a
}

// HasNumber asserts that the row stores attr as the number expected, in its
// DynamoDB string form.
func (a *ItemAssertion) HasNumber(attr, expected string) *ItemAssertion {
	a.t.Helper()
	n, ok := a.item[attr].(*types.AttributeValueMemberN)
	switch {
	case !ok:
		a.t.Errorf("attribute %s is not a number", attr)
	case n.Value != expected:
		a.t.Errorf("attribute %s expected %s, got %s", attr, expected, n.Value)
	}
	return a
}

// LacksAttribute asserts that the row does not store attr.
func (a *ItemAssertion) LacksAttribute(attr string) *ItemAssertion {
	a.t.Helper()
	if _, exists := a.item[attr]; exists {
		a.t.Errorf("item has unexpected attribute %s", attr)
	}
	return a
}

// HasAttributes asserts that the row stores exactly the given attributes.
func (a *ItemAssertion) HasAttributes(attrs ...string) *ItemAssertion {
	a.t.Helper()
	if len(a.item) != len(attrs) {
		a.t.Errorf("expected %d attributes %v, got %d", len(attrs), attrs, len(a.item))
	}
	for _, attr := range attrs {
		if _, ok := a.item[attr]; !ok {
			a.t.Errorf("item missing attribute %s", attr)
		}
	}
	return a
}

// TransactionsAssertion provides fluent assertions over committed
// transactions.
type TransactionsAssertion struct {
	t            testing.TB
	transactions []*dynamodb.TransactWriteItemsInput
}

// Transactions creates a new TransactionsAssertion.
func Transactions(t testing.TB, transactions []*dynamodb.TransactWriteItemsInput) *TransactionsAssertion {
	return &TransactionsAssertion{t: t, transactions: transactions}
}

// HasCount asserts that exactly expected transactions were committed.
func (a *TransactionsAssertion) HasCount(expected int) *TransactionsAssertion {
	a.t.Helper()
	if len(a.transactions) != expected {
		a.t.Errorf("expected %d transactions, got %d", expected, len(a.transactions))
	}
	return a
}

// HasSizes asserts the number of operations of each transaction, in order.
func (a *TransactionsAssertion) HasSizes(expected ...int) *TransactionsAssertion {
	a.t.Helper()
	sizes := make([]int, len(a.transactions))
	for i, tx := range a.transactions {
		sizes[i] = len(tx.TransactItems)
	}
	if len(sizes) != len(expected) {
		a.t.Errorf("expected transaction sizes %v, got %v", expected, sizes)
		return a
	}
	for i := range sizes {
		if sizes[i] != expected[i] {
			a.t.Errorf("expected transaction sizes %v, got %v", expected, sizes)
			break
		}
	}
	return a
}

// EachAtMost asserts that no transaction has more than max operations.
func (a *TransactionsAssertion) EachAtMost(max int) *TransactionsAssertion {
	a.t.Helper()
	for i, tx := range a.transactions {
		if n := len(tx.TransactItems); n > max {
			a.t.Errorf("transaction %d has %d operations, max %d", i, n, max)
		}
	}
	return a
}
