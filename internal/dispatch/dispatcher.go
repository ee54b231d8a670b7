package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/bnema/forwarder/internal/application"
	"github.com/bnema/forwarder/internal/domain"
)

const (
	OpStartLogin              = "start_login"
	OpSubmitChallengeResponse = "submit_challenge_response"
	OpSubmitSecondFactor      = "submit_second_factor"
	OpCancelLogin             = "cancel_login"
	OpRemoveAccount           = "remove_account"
	OpAccountList             = "account_list"
	OpGetAccountStatistics    = "get_account_statistics"
	OpCredentialAdd           = "credential_add"
	OpCredentialRemove        = "credential_remove"
	OpCredentialStatus        = "credential_status"
	OpCredentialInfo          = "credential_info"
	OpGetPoolStatistics       = "get_pool_statistics"
)

const (
	ArgAccountID    = "account_id"
	ArgCode         = "code"
	ArgSecret       = "secret"
	ArgCredentialID = "credential_id"
	ArgMaxCapacity  = "max_capacity"
	ArgStatus       = "status"
)

// Request names an operation and its string arguments, as a chat command or
// CLI invocation would supply them.
type Request struct {
	Caller    string            `json:"caller"`
	Operation string            `json:"operation"`
	Args      map[string]string `json:"args,omitempty"`
}

func (r Request) arg(name string) string {
	return strings.TrimSpace(r.Args[name])
}

type Accounts interface {
	StartLogin(ctx context.Context, accountID string) (application.LoginStep, error)
	SubmitChallengeResponse(ctx context.Context, accountID string, code string) (application.LoginStep, error)
	SubmitSecondFactor(ctx context.Context, accountID string, secret string) (application.LoginStep, error)
	CancelLogin(ctx context.Context, accountID string) error
	RemoveAccount(ctx context.Context, accountID string) error
	GetAccountList() []domain.ManagedAccount
	GetStatistics() application.AccountStatistics
}

type Pool interface {
	AddCredential(ctx context.Context, id domain.CredentialID, secret string, maxCapacity int) (domain.CredentialSlot, error)
	RemoveCredential(ctx context.Context, id domain.CredentialID) error
	SetCredentialStatus(ctx context.Context, id domain.CredentialID, status domain.CredentialStatus) (domain.CredentialSlot, error)
	GetAssignment(account domain.AccountID) (application.Assignment, error)
	ListCredentials() []domain.CredentialSlot
	Statistics() application.PoolStatistics
}

// CredentialInfo describes one slot without its secret.
type CredentialInfo struct {
	ID          domain.CredentialID     `json:"id"`
	Status      domain.CredentialStatus `json:"status"`
	MaxCapacity int                     `json:"max_capacity"`
	Accounts    []domain.AccountID      `json:"accounts"`
}

type AccountInfo struct {
	ID         domain.AccountID     `json:"id"`
	Status     domain.AccountStatus `json:"status"`
	Credential domain.CredentialID  `json:"credential_id,omitempty"`
	ErrorCount int                  `json:"error_count"`
}

type Option func(*Dispatcher)

func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithAdmins sets the callers allowed besides LocalCaller.
func WithAdmins(admins func() []string) Option {
	return func(d *Dispatcher) {
		if admins != nil {
			d.admins = admins
		}
	}
}

// Dispatcher routes requests to the account and pool operations behind a
// middleware chain and folds every error into a Result.
type Dispatcher struct {
	accounts Accounts
	pool     Pool
	logger   *zap.Logger
	admins   func() []string
	routes   map[string]Handler
	handler  Handler
}

func New(accounts Accounts, pool Pool, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		accounts: accounts,
		pool:     pool,
		logger:   zap.NewNop(),
		admins:   func() []string { return nil },
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.Named("dispatch")

	d.routes = map[string]Handler{
		OpStartLogin:              d.startLogin,
		OpSubmitChallengeResponse: d.submitChallengeResponse,
		OpSubmitSecondFactor:      d.submitSecondFactor,
		OpCancelLogin:             d.cancelLogin,
		OpRemoveAccount:           d.removeAccount,
		OpAccountList:             d.accountList,
		OpGetAccountStatistics:    d.accountStatistics,
		OpCredentialAdd:           d.credentialAdd,
		OpCredentialRemove:        d.credentialRemove,
		OpCredentialStatus:        d.credentialStatus,
		OpCredentialInfo:          d.credentialInfo,
		OpGetPoolStatistics:       d.poolStatistics,
	}
	d.handler = Chain(d.route, Log(d.logger), Recover(d.logger), RequireAdmin(d.admins))
	return d
}

func (d *Dispatcher) Operations() []string {
	ops := make([]string, 0, len(d.routes))
	for op := range d.routes {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	result, err := d.handler(ctx, req)
	if err != nil {
		result.Status = StatusFor(err)
		result.Message = err.Error()
		return result
	}
	if result.Status == "" {
		result.Status = StatusSuccess
	}
	return result
}

func (d *Dispatcher) route(ctx context.Context, req Request) (Result, error) {
	handler, ok := d.routes[req.Operation]
	if !ok {
		return Result{}, fmt.Errorf("%w: %w %q", domain.ErrValidation, ErrUnknownOperation, req.Operation)
	}
	return handler(ctx, req)
}

// Login steps travel as Data even when an error is returned so the caller
// can show attempts left.
func loginResult(step application.LoginStep, err error) (Result, error) {
	if step.Account == "" {
		return Result{}, err
	}
	return Result{Message: step.Prompt, Data: step}, err
}

func (d *Dispatcher) startLogin(ctx context.Context, req Request) (Result, error) {
	return loginResult(d.accounts.StartLogin(ctx, req.arg(ArgAccountID)))
}

func (d *Dispatcher) submitChallengeResponse(ctx context.Context, req Request) (Result, error) {
	return loginResult(d.accounts.SubmitChallengeResponse(ctx, req.arg(ArgAccountID), req.arg(ArgCode)))
}

func (d *Dispatcher) submitSecondFactor(ctx context.Context, req Request) (Result, error) {
	return loginResult(d.accounts.SubmitSecondFactor(ctx, req.arg(ArgAccountID), req.Args[ArgSecret]))
}

func (d *Dispatcher) cancelLogin(ctx context.Context, req Request) (Result, error) {
	account := req.arg(ArgAccountID)
	if err := d.accounts.CancelLogin(ctx, account); err != nil {
		return Result{}, err
	}
	return success(fmt.Sprintf("login for %s cancelled", account), nil), nil
}

func (d *Dispatcher) removeAccount(ctx context.Context, req Request) (Result, error) {
	account := req.arg(ArgAccountID)
	if err := d.accounts.RemoveAccount(ctx, account); err != nil {
		return Result{}, err
	}
	return success(fmt.Sprintf("account %s removed", account), nil), nil
}

func (d *Dispatcher) accountList(context.Context, Request) (Result, error) {
	accounts := d.accounts.GetAccountList()
	infos := make([]AccountInfo, 0, len(accounts))
	for _, account := range accounts {
		infos = append(infos, AccountInfo{
			ID:         account.ID,
			Status:     account.Status,
			Credential: account.Credential,
			ErrorCount: account.ErrorCount,
		})
	}
	return success(fmt.Sprintf("%d accounts", len(infos)), infos), nil
}

func (d *Dispatcher) accountStatistics(context.Context, Request) (Result, error) {
	stats := d.accounts.GetStatistics()
	return success(fmt.Sprintf("%d accounts, %d active", stats.Total, stats.Active), stats), nil
}

func (d *Dispatcher) credentialAdd(ctx context.Context, req Request) (Result, error) {
	id, err := domain.ParseCredentialID(req.arg(ArgCredentialID))
	if err != nil {
		return Result{}, err
	}
	capacity, err := parseCapacity(req.arg(ArgMaxCapacity))
	if err != nil {
		return Result{}, err
	}

	slot, err := d.pool.AddCredential(ctx, id, req.Args[ArgSecret], capacity)
	if err != nil {
		return Result{}, err
	}
	return success(fmt.Sprintf("credential %s added", slot.ID), infoFor(slot)), nil
}

func (d *Dispatcher) credentialRemove(ctx context.Context, req Request) (Result, error) {
	id, err := domain.ParseCredentialID(req.arg(ArgCredentialID))
	if err != nil {
		return Result{}, err
	}
	if err := d.pool.RemoveCredential(ctx, id); err != nil {
		return Result{}, err
	}
	return success(fmt.Sprintf("credential %s removed", id), nil), nil
}

func (d *Dispatcher) credentialStatus(ctx context.Context, req Request) (Result, error) {
	id, err := domain.ParseCredentialID(req.arg(ArgCredentialID))
	if err != nil {
		return Result{}, err
	}

	slot, err := d.pool.SetCredentialStatus(ctx, id, domain.CredentialStatus(strings.ToLower(req.arg(ArgStatus))))
	if err != nil {
		return Result{}, err
	}
	return success(fmt.Sprintf("credential %s is %s", slot.ID, slot.Status), infoFor(slot)), nil
}

// credentialInfo reports the credential backing one account, or every
// credential when no account is named.
func (d *Dispatcher) credentialInfo(_ context.Context, req Request) (Result, error) {
	if raw := req.arg(ArgAccountID); raw != "" {
		account, err := domain.ParseAccountID(raw)
		if err != nil {
			return Result{}, err
		}
		assignment, err := d.pool.GetAssignment(account)
		if err != nil {
			return Result{}, err
		}
		return success(fmt.Sprintf("%s uses credential %s", account, assignment.Credential), infoFor(assignment.Slot)), nil
	}

	slots := d.pool.ListCredentials()
	infos := make([]CredentialInfo, 0, len(slots))
	for _, slot := range slots {
		infos = append(infos, infoFor(slot))
	}
	return success(fmt.Sprintf("%d credentials", len(infos)), infos), nil
}

func (d *Dispatcher) poolStatistics(context.Context, Request) (Result, error) {
	stats := d.pool.Statistics()
	return success(fmt.Sprintf("%d of %d slots used", stats.TotalUsed, stats.TotalCapacity), stats), nil
}

func infoFor(slot domain.CredentialSlot) CredentialInfo {
	return CredentialInfo{
		ID:          slot.ID,
		Status:      slot.Status,
		MaxCapacity: slot.MaxCapacity,
		Accounts:    append([]domain.AccountID{}, slot.Assigned...),
	}
}

func parseCapacity(raw string) (int, error) {
	if raw == "" {
		return 0, fmt.Errorf("%w: max capacity is required", domain.ErrValidation)
	}
	capacity, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: max capacity %q is not a number", domain.ErrValidation, raw)
	}
	return capacity, nil
}
