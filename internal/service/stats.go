package service

import (
	"context"
	"strconv"
	"time"

	"pos-ledger/internal/biz"
	ledgerErrors "pos-ledger/internal/errors"
	"pos-ledger/internal/money"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/transport/http"
)

const (
	OperationStatsGetSettlementStats = "/ledger.v1.Stats/GetSettlementStats"
	OperationStatsListTransactions   = "/ledger.v1.Stats/ListTransactions"
)

// StatsService 日结对账查询
type StatsService struct {
	uc  *biz.StatsUseCase
	log *log.Helper
}

// NewStatsService 创建 StatsService
func NewStatsService(uc *biz.StatsUseCase, logger log.Logger) *StatsService {
	return &StatsService{
		uc:  uc,
		log: log.NewHelper(logger),
	}
}

type StatsRequest struct {
	// Date YYYY-MM-DD，空为当天（服务端本地时区）
	Date string `json:"date"`
}

type MethodStatsReply struct {
	Method       string `json:"method"`
	SettledCount int    `json:"settled_count"`
	PendingCount int    `json:"pending_count"`
	FailedCount  int    `json:"failed_count"`
	Collected    string `json:"collected"`
	Refunded     string `json:"refunded"`
	Net          string `json:"net"`
}

type StatsReply struct {
	Date      string              `json:"date"`
	Methods   []*MethodStatsReply `json:"methods"`
	Collected string              `json:"collected"`
	Refunded  string              `json:"refunded"`
	Net       string              `json:"net"`
}

type ListTransactionsRequest struct {
	Status   string `json:"status"`
	Method   string `json:"method"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type ListTransactionsReply struct {
	Transactions []*TransactionReply `json:"transactions"`
	Total        int64               `json:"total"`
	Page         int                 `json:"page"`
	PageSize     int                 `json:"page_size"`
}

// GetSettlementStats 按支付方式汇总某日的收款与退款
func (s *StatsService) GetSettlementStats(ctx context.Context, req *StatsRequest) (*StatsReply, error) {
	day := time.Now()
	if req.Date != "" {
		parsed, err := time.ParseInLocation("2006-01-02", req.Date, time.Local)
		if err != nil {
			return nil, ledgerErrors.InvalidArgument("invalid date %q, want YYYY-MM-DD", req.Date)
		}
		day = parsed
	}

	stats, err := s.uc.GetDailyStats(ctx, day)
	if err != nil {
		s.log.Errorf("GetSettlementStats failed: %v", err)
		return nil, err
	}
	return toStatsReply(stats), nil
}

// ListTransactions 分页查询流水
func (s *StatsService) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*ListTransactionsReply, error) {
	filter := &biz.TransactionFilter{
		Status:   biz.TransactionStatus(req.Status),
		Method:   biz.PaymentMethod(req.Method),
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	txns, total, err := s.uc.ListTransactions(ctx, filter)
	if err != nil {
		return nil, err
	}
	reply := &ListTransactionsReply{
		Transactions: make([]*TransactionReply, 0, len(txns)),
		Total:        total,
		Page:         filter.Page,
		PageSize:     filter.PageSize,
	}
	for _, t := range txns {
		reply.Transactions = append(reply.Transactions, toTransactionReply(t))
	}
	return reply, nil
}

func toStatsReply(stats *biz.SettlementStats) *StatsReply {
	reply := &StatsReply{
		Date:      stats.From.Format("2006-01-02"),
		Methods:   make([]*MethodStatsReply, 0, len(stats.Methods)),
		Collected: money.Format(stats.Collected),
		Refunded:  money.Format(stats.Refunded),
		Net:       money.Format(stats.Net()),
	}
	for _, m := range stats.Methods {
		reply.Methods = append(reply.Methods, &MethodStatsReply{
			Method:       string(m.Method),
			SettledCount: m.SettledCount,
			PendingCount: m.PendingCount,
			FailedCount:  m.FailedCount,
			Collected:    money.Format(m.Collected),
			Refunded:     money.Format(m.Refunded),
			Net:          money.Format(m.Net()),
		})
	}
	return reply
}

// RegisterStatsHTTPServer 注册统计路由
func RegisterStatsHTTPServer(s *http.Server, srv *StatsService) {
	r := s.Route("/")
	r.GET("/v1/payment/stats", _Stats_GetSettlementStats0_HTTP_Handler(srv))
	r.GET("/v1/payment/transactions", _Stats_ListTransactions0_HTTP_Handler(srv))
}

func _Stats_GetSettlementStats0_HTTP_Handler(srv *StatsService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		in := StatsRequest{Date: ctx.Query().Get("date")}
		http.SetOperation(ctx, OperationStatsGetSettlementStats)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.GetSettlementStats(ctx, req.(*StatsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}

func _Stats_ListTransactions0_HTTP_Handler(srv *StatsService) func(ctx http.Context) error {
	return func(ctx http.Context) error {
		q := ctx.Query()
		in := ListTransactionsRequest{
			Status: q.Get("status"),
			Method: q.Get("method"),
		}
		for key, dst := range map[string]*int{"page": &in.Page, "page_size": &in.PageSize} {
			if v := q.Get(key); v != "" {
				n, err := strconv.Atoi(v)
				if err != nil {
					return ledgerErrors.InvalidArgument("invalid %s %q", key, v)
				}
				*dst = n
			}
		}
		http.SetOperation(ctx, OperationStatsListTransactions)
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return srv.ListTransactions(ctx, req.(*ListTransactionsRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	}
}
