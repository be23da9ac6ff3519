package service

import (
	"context"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
)

// revenueStatuses are the statuses whose sale has been committed
var revenueStatuses = []models.OrderStatus{
	models.OrderStatusApproved,
	models.OrderStatusShipped,
	models.OrderStatusDelivered,
}

// Stats summarizes the order book for the admin dashboard
type Stats struct {
	TotalOrders      int                        `json:"total_orders"`
	OrdersByStatus   map[models.OrderStatus]int `json:"orders_by_status"`
	Revenue          decimal.Decimal            `json:"revenue"`
	LowStockProducts int                        `json:"low_stock_products"`
}

type ReportService struct {
	reports           ReportStore
	lowStockThreshold int
}

func NewReportService(reports ReportStore, lowStockThreshold int) *ReportService {
	return &ReportService{reports: reports, lowStockThreshold: lowStockThreshold}
}

// Stats reads dashboard figures; admins only
func (s *ReportService) Stats(ctx context.Context, p *auth.Principal) (stats *Stats, err error) {
	ctx, span := util.StartSpan(ctx, "ReportService.Stats")
	defer func() { util.EndSpan(span, err) }()

	if err := auth.RequireAdmin(p); err != nil {
		return nil, err
	}

	counts, err := s.reports.CountOrdersByStatus(ctx)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to count orders")
	}
	revenue, err := s.reports.SumRevenue(ctx, revenueStatuses)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to sum revenue")
	}
	lowStock, err := s.reports.CountLowStockProducts(ctx, s.lowStockThreshold)
	if err != nil {
		return nil, apperr.Temporary(err, "failed to count low stock products")
	}

	stats = &Stats{
		OrdersByStatus:   make(map[models.OrderStatus]int, len(counts)),
		Revenue:          revenue,
		LowStockProducts: lowStock,
	}
	for _, status := range models.AllOrderStatuses() {
		stats.OrdersByStatus[status] = counts[status]
		stats.TotalOrders += counts[status]
	}
	return stats, nil
}
