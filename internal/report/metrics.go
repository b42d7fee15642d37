package report

import "statusbot/internal/notify"

// Metrics are the per-environment inputs extracted from the search backend.
type Metrics struct {
	MarginBalance         float64 // Binance margin balance
	UnallocatedBalance    float64 // on-chain ERC-20 balance not yet allocated
	ProtocolUnrealizedPnl float64 // party B unrealized PnL on chain
	BrokerUnrealizedPnl   float64
	AllocatedBalance      float64
	Volume                float64
	Users                 float64
	Trades                float64
}

type Derived struct {
	TotalFunds   float64
	OnChainValue float64
}

func Derive(m Metrics) Derived {
	return Derived{
		TotalFunds:   m.MarginBalance + m.UnallocatedBalance + m.ProtocolUnrealizedPnl + m.AllocatedBalance,
		OnChainValue: m.ProtocolUnrealizedPnl + m.AllocatedBalance + m.UnallocatedBalance,
	}
}

// Rows lays out the report table in its fixed order.
func Rows(m Metrics) []notify.ReportRow {
	d := Derive(m)
	return []notify.ReportRow{
		{Label: "Trades", Value: Integer(m.Trades)},
		{Label: "Users", Value: Integer(m.Users)},
		{Label: "Volume", Value: Dollar(m.Volume)},
		{Label: "Total Funds", Value: Dollar(d.TotalFunds)},
		{Label: "Chain Value", Value: Dollar(d.OnChainValue)},
		{Label: "Binance Value", Value: Dollar(m.MarginBalance)},
		{Label: "Chain Alloc.", Value: Dollar(m.AllocatedBalance)},
		{Label: "Chain Unalloc.", Value: Dollar(m.UnallocatedBalance)},
		{Label: "Chain uPnL", Value: Dollar(m.ProtocolUnrealizedPnl)},
		{Label: "Binance uPnL", Value: Dollar(m.BrokerUnrealizedPnl)},
	}
}
