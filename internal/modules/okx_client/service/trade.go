package service

import (
	"context"
	"net/http"

	"market_maker/internal/models"

	"go.uber.org/zap"
)

const (
	placeBatchPath  = "/api/v5/trade/batch-orders"
	amendBatchPath  = "/api/v5/trade/amend-batch-orders"
	cancelBatchPath = "/api/v5/trade/cancel-batch-orders"
)

// PlaceOrders submits one batch. A non-zero envelope code is returned in the result, not as an error.
func (c *Client) PlaceOrders(ctx context.Context, reqs []models.PlaceRequest) (models.BatchResult, error) {
	body := make([]placeOrderData, 0, len(reqs))
	for _, r := range reqs {
		body = append(body, placeOrderData{
			InstId:  r.InstID,
			TdMode:  string(r.TdMode),
			ClOrdId: r.ClientID,
			Side:    string(r.Side),
			OrdType: string(r.Type),
			Px:      r.Price.String(),
			Sz:      r.Size.String(),
			PosSide: string(r.PosSide),
			Ccy:     r.Ccy,
		})
	}
	return c.batch(ctx, placeBatchPath, body)
}

func (c *Client) AmendOrders(ctx context.Context, reqs []models.AmendRequest) (models.BatchResult, error) {
	body := make([]amendOrderData, 0, len(reqs))
	for _, r := range reqs {
		item := amendOrderData{
			InstId:  r.InstID,
			ClOrdId: r.ClientID,
			ReqId:   r.ReqID,
		}
		if r.NewPrice.Valid {
			item.NewPx = r.NewPrice.Decimal.String()
		}
		if r.NewSize.Valid {
			item.NewSz = r.NewSize.Decimal.String()
		}
		body = append(body, item)
	}
	return c.batch(ctx, amendBatchPath, body)
}

func (c *Client) CancelOrders(ctx context.Context, reqs []models.CancelRequest) (models.BatchResult, error) {
	body := make([]cancelOrderData, 0, len(reqs))
	for _, r := range reqs {
		body = append(body, cancelOrderData{InstId: r.InstID, ClOrdId: r.ClientID})
	}
	return c.batch(ctx, cancelBatchPath, body)
}

func (c *Client) batch(ctx context.Context, path string, body any) (models.BatchResult, error) {
	var r response[batchItemData]
	if err := c.call(ctx, http.MethodPost, path, body, true, &r); err != nil {
		return models.BatchResult{}, err
	}

	res := models.BatchResult{Code: r.Code, Msg: r.Msg, Items: make([]models.BatchItem, 0, len(r.Data))}
	for _, d := range r.Data {
		res.Items = append(res.Items, models.BatchItem{
			ClientID: d.ClOrdId,
			OrderID:  d.OrdId,
			Code:     d.SCode,
			Msg:      d.SMsg,
		})
	}
	if r.Code != models.BatchCodeOK {
		c.log.Warn("batch not fully accepted",
			zap.String("path", path),
			zap.String("code", r.Code),
			zap.String("msg", r.Msg),
		)
	}
	return res, nil
}
