package plaidclient

import (
	"context"
	"time"

	"github.com/plaid/plaid-go/v24/plaid"
	"github.com/sony/gobreaker"

	"github.com/fintrack/bank-sync/internal/dto"
	"github.com/fintrack/bank-sync/pkg/helpers"
)

const transactionsPageSize = 500

type Adapter struct {
	client  *plaid.APIClient
	breaker *gobreaker.CircuitBreaker
}

func NewAdapter(clientID, secret string, env dto.PlaidEnvironment) *Adapter {
	cfg := plaid.NewConfiguration()
	cfg.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	cfg.AddDefaultHeader("PLAID-SECRET", secret)
	cfg.UseEnvironment(toPlaidEnv(env))

	return &Adapter{
		client:  plaid.NewAPIClient(cfg),
		breaker: newBreaker(),
	}
}

func newBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        providerName,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	})
}

func (a *Adapter) CreateLinkToken(ctx context.Context, uid string) (string, error) {
	req := plaid.NewLinkTokenCreateRequest(
		"Fintrack",
		"en",
		[]plaid.CountryCode{plaid.CountryCode("US")},
		plaid.LinkTokenCreateRequestUser{ClientUserId: uid},
	)
	req.SetProducts([]plaid.Products{plaid.PRODUCTS_TRANSACTIONS})

	res, err := a.breaker.Execute(func() (interface{}, error) {
		resp, _, err := a.client.PlaidApi.LinkTokenCreate(ctx).LinkTokenCreateRequest(*req).Execute()
		return resp, err
	})
	if err != nil {
		return "", normalizeError(err)
	}
	resp := res.(plaid.LinkTokenCreateResponse)
	return resp.GetLinkToken(), nil
}

func (a *Adapter) ExchangePublicToken(ctx context.Context, publicToken string) (itemID, accessToken string, err error) {
	req := plaid.NewItemPublicTokenExchangeRequest(publicToken)
	res, err := a.breaker.Execute(func() (interface{}, error) {
		resp, _, err := a.client.PlaidApi.ItemPublicTokenExchange(ctx).ItemPublicTokenExchangeRequest(*req).Execute()
		return resp, err
	})
	if err != nil {
		return "", "", normalizeError(err)
	}
	resp := res.(plaid.ItemPublicTokenExchangeResponse)
	return resp.GetItemId(), resp.GetAccessToken(), nil
}

// GetItemStatus asks the provider whether the item is healthy. A nil return
// means healthy; an item-level error is normalized like any call failure.
func (a *Adapter) GetItemStatus(ctx context.Context, accessToken string) error {
	req := plaid.NewItemGetRequest(accessToken)
	res, err := a.breaker.Execute(func() (interface{}, error) {
		resp, _, err := a.client.PlaidApi.ItemGet(ctx).ItemGetRequest(*req).Execute()
		return resp, err
	})
	if err != nil {
		return normalizeError(err)
	}

	resp := res.(plaid.ItemGetResponse)
	item := resp.GetItem()
	if itemErr, ok := item.GetErrorOk(); ok && itemErr != nil {
		return normalizePlaidError(*itemErr)
	}
	return nil
}

func (a *Adapter) GetAccounts(ctx context.Context, accessToken string) ([]dto.AccountSnapshot, error) {
	req := plaid.NewAccountsGetRequest(accessToken)
	res, err := a.breaker.Execute(func() (interface{}, error) {
		resp, _, err := a.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*req).Execute()
		return resp, err
	})
	if err != nil {
		return nil, normalizeError(err)
	}

	resp := res.(plaid.AccountsGetResponse)
	accounts := resp.GetAccounts()
	snapshots := make([]dto.AccountSnapshot, 0, len(accounts))
	for _, acc := range accounts {
		balances := acc.GetBalances()
		snap := dto.AccountSnapshot{
			PlaidAccountID:   acc.GetAccountId(),
			Name:             acc.GetName(),
			Type:             string(acc.GetType()),
			CurrentBalance:   balances.GetCurrent(),
			AvailableBalance: balances.GetAvailable(),
			Currency:         balances.GetIsoCurrencyCode(),
		}
		if limit, ok := balances.GetLimitOk(); ok && limit != nil {
			snap.Limit = helpers.Ptr(*limit)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func (a *Adapter) GetTransactions(ctx context.Context, accessToken string, accountIDs []string, r dto.DateRange) ([]dto.TransactionRecord, error) {
	start := r.Start.Format("2006-01-02")
	end := r.End.Format("2006-01-02")

	var records []dto.TransactionRecord
	offset := 0
	for {
		req := plaid.NewTransactionsGetRequest(accessToken, start, end)
		opts := plaid.NewTransactionsGetRequestOptions()
		opts.SetCount(transactionsPageSize)
		opts.SetOffset(int32(offset))
		if len(accountIDs) > 0 {
			opts.SetAccountIds(accountIDs)
		}
		req.SetOptions(*opts)

		res, err := a.breaker.Execute(func() (interface{}, error) {
			resp, _, err := a.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*req).Execute()
			return resp, err
		})
		if err != nil {
			return nil, normalizeError(err)
		}

		resp := res.(plaid.TransactionsGetResponse)
		for _, plaidTx := range resp.GetTransactions() {
			records = append(records, convertTransaction(plaidTx))
		}

		offset += len(resp.GetTransactions())
		if offset >= int(resp.GetTotalTransactions()) || len(resp.GetTransactions()) == 0 {
			break
		}
	}
	return records, nil
}

// RemoveItem revokes provider-side access for the item.
func (a *Adapter) RemoveItem(ctx context.Context, accessToken string) error {
	req := plaid.NewItemRemoveRequest(accessToken)
	_, err := a.breaker.Execute(func() (interface{}, error) {
		resp, _, err := a.client.PlaidApi.ItemRemove(ctx).ItemRemoveRequest(*req).Execute()
		return resp, err
	})
	if err != nil {
		return normalizeError(err)
	}
	return nil
}

func convertTransaction(plaidTx plaid.Transaction) dto.TransactionRecord {
	rec := dto.TransactionRecord{
		PlaidTransactionID: plaidTx.GetTransactionId(),
		PlaidAccountID:     plaidTx.GetAccountId(),
		Amount:             plaidTx.GetAmount(),
		Currency:           plaidTx.GetIsoCurrencyCode(),
		Date:               plaidTx.GetDate(),
		Pending:            plaidTx.GetPending(),
		MerchantName:       plaidTx.GetMerchantName(),
		Name:               plaidTx.GetName(),
	}
	categories := plaidTx.GetCategory()
	if len(categories) > 0 {
		rec.Category = categories[0]
	}
	if len(categories) > 1 {
		rec.SubCategory = categories[1]
	}
	return rec
}

func toPlaidEnv(env dto.PlaidEnvironment) plaid.Environment {
	switch env {
	case dto.PlaidSandbox:
		return plaid.Sandbox
	default: // dto.PlaidProduction
		return plaid.Production
	}
}
