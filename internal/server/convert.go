package server

import (
	"fenrir-perp/internal/common"
	"fenrir-perp/internal/order"
)

func parseSide(s string) (order.Side, error) {
	switch s {
	case "buy", "Buy", "BUY":
		return order.Buy, nil
	case "sell", "Sell", "SELL":
		return order.Sell, nil
	default:
		return 0, common.NewError(common.KindValidation, "side must be buy or sell")
	}
}

func parseOrderType(s string) (order.Type, error) {
	switch s {
	case "", "limit", "Limit":
		return order.Limit, nil
	case "market", "Market":
		return order.Market, nil
	case "stop", "Stop":
		return order.Stop, nil
	case "stop_limit", "StopLimit":
		return order.StopLimit, nil
	default:
		return 0, common.NewError(common.KindValidation, "unknown order type")
	}
}

func parseTimeInForce(s string) (order.TimeInForce, error) {
	switch s {
	case "", "gtc", "GTC":
		return order.GTC, nil
	case "ioc", "IOC":
		return order.IOC, nil
	case "fok", "FOK":
		return order.FOK, nil
	case "post_only", "PostOnly":
		return order.PostOnly, nil
	default:
		return 0, common.NewError(common.KindValidation, "unknown time in force")
	}
}

func sideString(s order.Side) string {
	return s.String()
}

func orderTypeString(t order.Type) string {
	switch t {
	case order.Limit:
		return "limit"
	case order.Market:
		return "market"
	case order.Stop:
		return "stop"
	case order.StopLimit:
		return "stop_limit"
	default:
		return "unknown"
	}
}

func timeInForceString(tif order.TimeInForce) string {
	switch tif {
	case order.GTC:
		return "gtc"
	case order.IOC:
		return "ioc"
	case order.FOK:
		return "fok"
	case order.PostOnly:
		return "post_only"
	default:
		return "unknown"
	}
}

func statusString(s order.Status) string {
	switch s {
	case order.Open:
		return "open"
	case order.PartiallyFilled:
		return "partially_filled"
	case order.Filled:
		return "filled"
	case order.Cancelled:
		return "cancelled"
	case order.Rejected:
		return "rejected"
	case order.Expired:
		return "expired"
	default:
		return "unknown"
	}
}

func orderToResponse(o order.Order) orderResponse {
	resp := orderResponse{
		OrderID:       uint64(o.ID),
		AgentID:       string(o.AgentID),
		Market:        o.Market,
		Side:          sideString(o.Side),
		Type:          orderTypeString(o.Type),
		TotalQuantity: o.TotalQuantity.String(),
		Remaining:     o.Remaining.String(),
		TimeInForce:   timeInForceString(o.TimeInForce),
		Status:        statusString(o.Status),
		RejectReason:  o.RejectReason,
		ClientID:      o.ClientID,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
	if o.Price != nil {
		resp.Price = o.Price.String()
	}
	return resp
}

func tradeToResponse(tr order.Trade) tradeResponse {
	return tradeResponse{
		TradeID:      uint64(tr.ID),
		Market:       tr.Market,
		Price:        tr.Price.String(),
		Quantity:     tr.Quantity.String(),
		MakerOrderID: uint64(tr.MakerOrderID),
		TakerOrderID: uint64(tr.TakerOrderID),
	}
}

func marketToResponse(m common.Market) marketResponse {
	return marketResponse{
		Symbol:                m.Symbol,
		Index:                 m.Index,
		TickSize:              m.TickSize.String(),
		MinLot:                m.MinLot.String(),
		MaxLeverage:           m.MaxLeverage.String(),
		InitialMarginRate:     m.InitialMarginRate.String(),
		MaintenanceMarginRate: m.MaintenanceMarginRate.String(),
		Active:                m.Active,
	}
}
