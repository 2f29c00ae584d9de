package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/paybridge/internal/order/domain"
	"github.com/smallbiznis/paybridge/internal/reconcile"
)

type submitOrderRequest struct {
	MerchantOrderNo string `json:"merchant_order_no" binding:"required"`
	Direction       string `json:"direction" binding:"required"`
	Amount          int64  `json:"amount" binding:"required"`
	Currency        string `json:"currency" binding:"required"`
	Channel         string `json:"channel"`
	NotifyURL       string `json:"notify_url"`
	ReturnURL       string `json:"return_url"`

	BankCode    string `json:"bank_code"`
	AccountName string `json:"account_name"`
	AccountNo   string `json:"account_no"`
	IFSC        string `json:"ifsc"`
}

func merchantID(c *gin.Context) (snowflake.ID, bool) {
	raw := strings.TrimSpace(c.GetHeader("X-Merchant-Id"))
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Server) submitOrder(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		AbortWithError(c, reconcile.ErrInvalidSubmit)
		return
	}

	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, reconcile.ErrInvalidSubmit)
		return
	}

	order, err := s.reconciler.Submit(c.Request.Context(), reconcile.SubmitRequest{
		MerchantID:      id,
		MerchantOrderNo: req.MerchantOrderNo,
		Direction:       orderdomain.Direction(strings.ToUpper(req.Direction)),
		Amount:          req.Amount,
		Currency:        strings.ToUpper(req.Currency),
		Channel:         req.Channel,
		NotifyURL:       req.NotifyURL,
		ReturnURL:       req.ReturnURL,
		BankCode:        req.BankCode,
		AccountName:     req.AccountName,
		AccountNo:       req.AccountNo,
		IFSC:            req.IFSC,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) queryOrder(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		AbortWithError(c, reconcile.ErrInvalidSubmit)
		return
	}

	order, err := s.reconciler.Query(c.Request.Context(), id, c.Param("merchant_order_no"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type submitUTRRequest struct {
	UTR string `json:"utr" binding:"required"`
}

func (s *Server) submitUTR(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		AbortWithError(c, reconcile.ErrInvalidSubmit)
		return
	}

	var req submitUTRRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, reconcile.ErrInvalidSubmit)
		return
	}

	order, err := s.reconciler.SubmitUTR(c.Request.Context(), id, c.Param("merchant_order_no"), req.UTR)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) queryBalance(c *gin.Context) {
	id, ok := merchantID(c)
	if !ok {
		AbortWithError(c, reconcile.ErrInvalidSubmit)
		return
	}
	channel := strings.TrimSpace(c.Query("channel"))
	if channel == "" {
		AbortWithError(c, reconcile.ErrInvalidSubmit)
		return
	}

	balance, err := s.reconciler.Balance(c.Request.Context(), id, channel)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}
