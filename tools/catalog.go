package tools

import (
	"errors"
	"fmt"
	"time"
)

// Operation names understood by a Runner.
const (
	OpGetVirtualCards       = "get_virtual_cards"
	OpGetVirtualCardDetail  = "get_virtual_card_detail"
	OpGetCreditCards        = "get_credit_cards"
	OpGetCreditCardDetail   = "get_credit_card_detail"
	OpGetTransactions       = "get_transactions"
	OpGetTransactionDetail  = "get_transaction_detail"
	OpGetExpenseCategories  = "get_expense_categories"
	OpGetExpenseCategory    = "get_expense_category"
	maxPerPage              = 100
	defaultPerPage          = 10
	defaultTransactionsPage = 50
	dateLayout              = time.DateOnly
)

// VirtualCardsArgs are the arguments of get_virtual_cards.
type VirtualCardsArgs struct {
	Page       int    `json:"page,omitempty" jsonschema:"minimum=0,default=0" jsonschema_description:"Pagination page number, default is 0."`
	PerPage    int    `json:"per_page,omitempty" jsonschema:"minimum=1,maximum=100,default=10" jsonschema_description:"Number of items per page, default is 10."`
	Status     string `json:"status,omitempty" jsonschema:"enum=ACTIVE,enum=CANCELLED,enum=PENDING,enum=EXPIRED,enum=CLOSED,enum=CONSUMED" jsonschema_description:"Filter virtual cards by status."`
	Recipient  string `json:"recipient,omitempty" jsonschema_description:"Filter virtual cards by recipient identifier."`
	SearchTerm string `json:"search_term,omitempty" jsonschema_description:"Search term to filter virtual cards."`
}

func (a *VirtualCardsArgs) normalize() error {
	return normalizePage(&a.Page, &a.PerPage, defaultPerPage)
}

// VirtualCardArgs identifies a single virtual card.
type VirtualCardArgs struct {
	VirtualCardID string `json:"virtual_card_id" jsonschema_description:"The ID of the virtual card."`
}

func (a *VirtualCardArgs) normalize() error { return requireID("virtual_card_id", a.VirtualCardID) }

// CreditCardsArgs are the arguments of get_credit_cards.
type CreditCardsArgs struct {
	Page       int    `json:"page,omitempty" jsonschema:"minimum=0,default=0" jsonschema_description:"Pagination page number, default is 0."`
	PerPage    int    `json:"per_page,omitempty" jsonschema:"minimum=1,maximum=100,default=10" jsonschema_description:"Number of credit cards per page, default is 10."`
	Status     string `json:"status,omitempty" jsonschema_description:"Filter credit cards by status."`
	SearchTerm string `json:"search_term,omitempty" jsonschema_description:"Search term to filter credit cards."`
}

func (a *CreditCardsArgs) normalize() error {
	return normalizePage(&a.Page, &a.PerPage, defaultPerPage)
}

// CreditCardArgs identifies a single credit card.
type CreditCardArgs struct {
	CreditCardID string `json:"credit_card_id" jsonschema_description:"The ID of the credit card."`
}

func (a *CreditCardArgs) normalize() error { return requireID("credit_card_id", a.CreditCardID) }

// TransactionsArgs are the arguments of get_transactions.
type TransactionsArgs struct {
	Page           int    `json:"page,omitempty" jsonschema:"minimum=0,default=0" jsonschema_description:"Pagination page number, default is 0."`
	PerPage        int    `json:"per_page,omitempty" jsonschema:"minimum=1,maximum=100,default=50" jsonschema_description:"Number of transactions per page, default is 50."`
	StartDate      string `json:"start_date,omitempty" jsonschema:"format=date" jsonschema_description:"Only transactions on or after this date (YYYY-MM-DD)."`
	EndDate        string `json:"end_date,omitempty" jsonschema:"format=date" jsonschema_description:"Only transactions on or before this date (YYYY-MM-DD)."`
	VirtualCardID  string `json:"virtual_card_id,omitempty" jsonschema_description:"Filter transactions by a specific virtual card ID."`
	MinAmountCents *int64 `json:"min_amount_cents,omitempty" jsonschema_description:"Minimum clearing amount in cents."`
	MaxAmountCents *int64 `json:"max_amount_cents,omitempty" jsonschema_description:"Maximum clearing amount in cents."`
}

func (a *TransactionsArgs) normalize() error {
	if err := normalizePage(&a.Page, &a.PerPage, defaultTransactionsPage); err != nil {
		return err
	}
	var start, end time.Time
	var err error
	if a.StartDate != "" {
		if start, err = time.Parse(dateLayout, a.StartDate); err != nil {
			return fmt.Errorf("start_date must be YYYY-MM-DD")
		}
	}
	if a.EndDate != "" {
		if end, err = time.Parse(dateLayout, a.EndDate); err != nil {
			return fmt.Errorf("end_date must be YYYY-MM-DD")
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("end_date is before start_date")
	}
	if a.MinAmountCents != nil && a.MaxAmountCents != nil && *a.MaxAmountCents < *a.MinAmountCents {
		return fmt.Errorf("max_amount_cents is less than min_amount_cents")
	}
	return nil
}

// TransactionArgs identifies a single transaction.
type TransactionArgs struct {
	TransactionID string `json:"transaction_id" jsonschema_description:"The ID of the transaction."`
}

func (a *TransactionArgs) normalize() error { return requireID("transaction_id", a.TransactionID) }

// ExpenseCategoriesArgs are the arguments of get_expense_categories.
type ExpenseCategoriesArgs struct {
	Active        *bool  `json:"active,omitempty" jsonschema_description:"Filter categories by active status."`
	Required      *bool  `json:"required,omitempty" jsonschema_description:"Filter categories by required status."`
	Search        string `json:"search,omitempty" jsonschema_description:"Search term to filter categories."`
	SortField     string `json:"sort_field,omitempty" jsonschema_description:"Field to sort the categories by."`
	SortDirection string `json:"sort_direction,omitempty" jsonschema:"enum=ASC,enum=DESC" jsonschema_description:"Direction to sort the categories."`
}

// ExpenseCategoryArgs identifies a single expense category.
type ExpenseCategoryArgs struct {
	CategoryID string `json:"category_id" jsonschema_description:"The ID of the expense category."`
}

func (a *ExpenseCategoryArgs) normalize() error { return requireID("category_id", a.CategoryID) }

func normalizePage(page, perPage *int, def int) error {
	if *page < 0 {
		return errors.New("page must not be negative")
	}
	if *perPage == 0 {
		*perPage = def
	}
	if *perPage < 1 || *perPage > maxPerPage {
		return fmt.Errorf("per_page must be between 1 and %d", maxPerPage)
	}
	return nil
}

func requireID(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// catalog is every tool the server knows, in listing order.
var catalog = []Definition{
	newDefinition[VirtualCardsArgs](OpGetVirtualCards, "Get Virtual Cards", Permission{VirtualCards, Read},
		"List the user's virtual cards in Extend. The response has a pagination object (current page, page size, totalItems, total pages) and a virtualCards array; totalItems counts all cards, not just this page."),
	newDefinition[VirtualCardArgs](OpGetVirtualCardDetail, "Get Virtual Card Detail", Permission{VirtualCards, Read},
		"Get the details of one virtual card in Extend."),
	newDefinition[CreditCardsArgs](OpGetCreditCards, "Get Credit Cards", Permission{CreditCards, Read},
		"List the credit cards available to the user in Extend."),
	newDefinition[CreditCardArgs](OpGetCreditCardDetail, "Get Credit Card Detail", Permission{CreditCards, Read},
		"Get the details of one credit card in Extend."),
	newDefinition[TransactionsArgs](OpGetTransactions, "Get Transactions", Permission{Transactions, Read},
		"List transactions in Extend, optionally filtered by date range, virtual card and amount."),
	newDefinition[TransactionArgs](OpGetTransactionDetail, "Get Transaction Detail", Permission{Transactions, Read},
		"Get the details of one transaction in Extend."),
	newDefinition[ExpenseCategoriesArgs](OpGetExpenseCategories, "Get Expense Categories", Permission{ExpenseCategories, Read},
		"List the expense categories configured in Extend."),
	newDefinition[ExpenseCategoryArgs](OpGetExpenseCategory, "Get Expense Category", Permission{ExpenseCategories, Read},
		"Get one expense category in Extend."),
}

// Catalog returns every known tool regardless of permissions.
func Catalog() []Definition {
	out := make([]Definition, len(catalog))
	copy(out, catalog)
	return out
}
