package downstream_test

import (
	"context"
	"testing"

	"github.com/ledgerflow/workflow/downstream"
)

func TestFakeClientTransferDebitsBalance(t *testing.T) {
	c := downstream.NewFakeClient()
	res, err := c.Transfer(context.Background(), "123", "kiran", 1000)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if !res.Success {
		t.Fatal("expected success")
	}
	if c.TransferCallCount() != 1 {
		t.Errorf("TransferCallCount = %d, want 1", c.TransferCallCount())
	}
	bal, err := c.GetBalance(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if bal.Balance != 9000 {
		t.Errorf("Balance = %v, want 9000", bal.Balance)
	}
}
