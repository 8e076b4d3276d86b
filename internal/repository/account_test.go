package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func newAccountRepo(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewAccountRepository(db), mock
}

func TestGetAccount(t *testing.T) {
	repo, mock := newAccountRepo(t)

	rows := sqlmock.NewRows([]string{"user_id", "balance", "frozen", "risk_level", "update_time_ms"}).
		AddRow(int64(1), "100.5", false, RiskWin, int64(1700000000000))
	mock.ExpectQuery("SELECT user_id, balance, frozen, risk_level, update_time_ms").
		WithArgs(int64(1)).WillReturnRows(rows)

	account, err := repo.GetAccount(context.Background(), 1)
	if err != nil {
		t.Fatalf("get account: %v", err)
	}
	if !account.Balance.Equal(decimal.RequireFromString("100.5")) {
		t.Fatalf("expected balance 100.5, got %s", account.Balance)
	}
	if account.RiskLevel != RiskWin {
		t.Fatalf("expected risk level %d, got %d", RiskWin, account.RiskLevel)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetAccountNotFound(t *testing.T) {
	repo, mock := newAccountRepo(t)

	mock.ExpectQuery("SELECT user_id, balance, frozen, risk_level, update_time_ms").
		WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "frozen", "risk_level", "update_time_ms"}))

	_, err := repo.GetAccount(context.Background(), 9)
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDebitSuccess(t *testing.T) {
	repo, mock := newAccountRepo(t)

	mock.ExpectExec("UPDATE trading.accounts").
		WithArgs(int64(1), decimal.RequireFromString("10"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Debit(context.Background(), 1, decimal.RequireFromString("10")); err != nil {
		t.Fatalf("debit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	repo, mock := newAccountRepo(t)

	// 条件更新没命中行：补一次读区分余额不足与账户缺失
	mock.ExpectExec("UPDATE trading.accounts").
		WithArgs(int64(1), decimal.RequireFromString("1000"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	rows := sqlmock.NewRows([]string{"user_id", "balance", "frozen", "risk_level", "update_time_ms"}).
		AddRow(int64(1), "100", false, RiskNormal, int64(0))
	mock.ExpectQuery("SELECT user_id, balance, frozen, risk_level, update_time_ms").
		WithArgs(int64(1)).WillReturnRows(rows)

	err := repo.Debit(context.Background(), 1, decimal.RequireFromString("1000"))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestDebitAccountMissing(t *testing.T) {
	repo, mock := newAccountRepo(t)

	mock.ExpectExec("UPDATE trading.accounts").
		WithArgs(int64(9), decimal.RequireFromString("10"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT user_id, balance, frozen, risk_level, update_time_ms").
		WithArgs(int64(9)).WillReturnRows(sqlmock.NewRows([]string{"user_id", "balance", "frozen", "risk_level", "update_time_ms"}))

	err := repo.Debit(context.Background(), 9, decimal.RequireFromString("10"))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	repo, _ := newAccountRepo(t)

	if err := repo.Debit(context.Background(), 1, decimal.Zero); err == nil {
		t.Fatal("expected error for zero amount")
	}
	if err := repo.Debit(context.Background(), 1, decimal.RequireFromString("-5")); err == nil {
		t.Fatal("expected error for negative amount")
	}
}

func TestCreditSuccess(t *testing.T) {
	repo, mock := newAccountRepo(t)

	mock.ExpectExec("UPDATE trading.accounts").
		WithArgs(int64(1), decimal.RequireFromString("15"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Credit(context.Background(), 1, decimal.RequireFromString("15")); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func TestCreditAccountMissing(t *testing.T) {
	repo, mock := newAccountRepo(t)

	mock.ExpectExec("UPDATE trading.accounts").
		WithArgs(int64(9), decimal.RequireFromString("15"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Credit(context.Background(), 9, decimal.RequireFromString("15"))
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestGetCurrency(t *testing.T) {
	repo, mock := newAccountRepo(t)

	rows := sqlmock.NewRows([]string{"symbol", "status"}).AddRow("BTCUSDT", CurrencyTrading)
	mock.ExpectQuery("SELECT symbol, status").
		WithArgs("BTCUSDT").WillReturnRows(rows)

	currency, err := repo.GetCurrency(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("get currency: %v", err)
	}
	if currency.Status != CurrencyTrading {
		t.Fatalf("expected trading status, got %d", currency.Status)
	}
}

func TestGetCurrencyNotFound(t *testing.T) {
	repo, mock := newAccountRepo(t)

	mock.ExpectQuery("SELECT symbol, status").
		WithArgs("NOPEUSDT").WillReturnRows(sqlmock.NewRows([]string{"symbol", "status"}))

	_, err := repo.GetCurrency(context.Background(), "NOPEUSDT")
	if !errors.Is(err, ErrCurrencyNotFound) {
		t.Fatalf("expected ErrCurrencyNotFound, got %v", err)
	}
}
