package idhash

import (
	"math"
	"testing"

	"bracket-lab/internal/domain"
)

func TestComputeEventID(t *testing.T) {
	got := ComputeEventID("KXTSAW", 1704067200, 1704672000)

	if len(got) != 64 {
		t.Errorf("ComputeEventID() length = %d, want 64", len(got))
	}

	// Same inputs produce the same ID
	got2 := ComputeEventID("KXTSAW", 1704067200, 1704672000)
	if got != got2 {
		t.Errorf("ComputeEventID() not deterministic: %s != %s", got, got2)
	}
}

func TestComputeEventID_DifferentInputs(t *testing.T) {
	base := ComputeEventID("KXTSAW", 1000, 2000)

	if base == ComputeEventID("KXHIGHLAX", 1000, 2000) {
		t.Error("Different instrument should produce different hash")
	}
	if base == ComputeEventID("KXTSAW", 1001, 2000) {
		t.Error("Different run date should produce different hash")
	}
	if base == ComputeEventID("KXTSAW", 1000, 2001) {
		t.Error("Different settlement date should produce different hash")
	}
}

func TestComputeContractID(t *testing.T) {
	got := ComputeContractID("event-1", 2.3, 2.4, domain.SideYes)

	if len(got) != 64 {
		t.Errorf("ComputeContractID() length = %d, want 64", len(got))
	}

	got2 := ComputeContractID("event-1", 2.3, 2.4, domain.SideYes)
	if got != got2 {
		t.Errorf("ComputeContractID() not deterministic: %s != %s", got, got2)
	}
}

func TestComputeContractID_SideAndStrikes(t *testing.T) {
	base := ComputeContractID("event-1", 2.3, 2.4, domain.SideYes)

	if base == ComputeContractID("event-1", 2.3, 2.4, domain.SideNo) {
		t.Error("Different side should produce different hash")
	}
	if base == ComputeContractID("event-1", 2.2, 2.4, domain.SideYes) {
		t.Error("Different floor should produce different hash")
	}
	if base == ComputeContractID("event-1", 2.3, 2.5, domain.SideYes) {
		t.Error("Different cap should produce different hash")
	}
}

func TestComputeContractID_OpenEndedBrackets(t *testing.T) {
	// Open-ended brackets must hash stably and distinctly
	below := ComputeContractID("event-1", math.Inf(-1), 2.3, domain.SideYes)
	above := ComputeContractID("event-1", 2.3, math.Inf(1), domain.SideYes)

	if below == above {
		t.Error("Open-below and open-above brackets should produce different hashes")
	}
	if below != ComputeContractID("event-1", math.Inf(-1), 2.3, domain.SideYes) {
		t.Error("Open-ended bracket hash not deterministic")
	}
}

func TestComputeInputHash_Idempotent(t *testing.T) {
	rows := []*domain.BacktestRow{
		{EventID: "e1", ContractID: "c1", Side: domain.SideYes, Probability: 0.6,
			Action: domain.ActionBuy, Size: 1, EntryPrice: 0.55, Edge: 0.05,
			Outcome: domain.OutcomeWin, SettlementValue: 2.35, PnL: 0.45},
		{EventID: "e1", ContractID: "c2", Side: domain.SideNo, Probability: 0.7,
			Action: domain.ActionSkip, Outcome: domain.OutcomeLoss},
	}

	first := ComputeInputHash(rows)
	second := ComputeInputHash(rows)

	if first != second {
		t.Errorf("ComputeInputHash() not idempotent: %s != %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("ComputeInputHash() length = %d, want 64", len(first))
	}
}

func TestComputeInputHash_SensitiveToOrderAndContent(t *testing.T) {
	a := &domain.BacktestRow{EventID: "e1", ContractID: "c1", PnL: 1.0}
	b := &domain.BacktestRow{EventID: "e2", ContractID: "c2", PnL: -1.0}

	forward := ComputeInputHash([]*domain.BacktestRow{a, b})
	reversed := ComputeInputHash([]*domain.BacktestRow{b, a})
	if forward == reversed {
		t.Error("Row order must affect the hash")
	}

	mutated := &domain.BacktestRow{EventID: "e1", ContractID: "c1", PnL: 1.0000001}
	if forward == ComputeInputHash([]*domain.BacktestRow{mutated, b}) {
		t.Error("PnL change must affect the hash")
	}
}

func TestComputeInputHash_Empty(t *testing.T) {
	if got := ComputeInputHash(nil); len(got) != 64 {
		t.Errorf("ComputeInputHash(nil) length = %d, want 64", len(got))
	}
	if ComputeInputHash(nil) != ComputeInputHash([]*domain.BacktestRow{}) {
		t.Error("nil and empty slices should hash identically")
	}
}
