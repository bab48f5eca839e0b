package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/otherjamesbrown/salelink/pkg/auction"
	"github.com/otherjamesbrown/salelink/pkg/audit"
	"github.com/otherjamesbrown/salelink/pkg/catalog"
	slerrors "github.com/otherjamesbrown/salelink/pkg/errors"
	"github.com/otherjamesbrown/salelink/pkg/linker"
	"github.com/otherjamesbrown/salelink/pkg/reconcile"
	"github.com/otherjamesbrown/salelink/pkg/research"
)

func pathID(c *gin.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: %w", c.Param("id"), slerrors.ErrValidation)
	}
	return id, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, slerrors.ErrValidation)
	}
	return n, nil
}

func bind(c *gin.Context, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, slerrors.ErrValidation)
	}
	return nil
}

// track records a mutation in the operation audit log.
func track[T any](s *Server, c *gin.Context, operation string, args []string, fn func() (T, error)) (T, error) {
	return audit.Track(c.Request.Context(), s.deps.Audit, s.logger, "api "+operation, actor(c), args, fn)
}

func (s *Server) getProperty(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	view, err := s.deps.Catalog.Property(c.Request.Context(), id)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) linkProperty(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	res, err := track(s, c, "link", []string{c.Param("id")}, func() (*linker.Result, error) {
		return s.deps.Linker.Link(c.Request.Context(), id)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type overrideRequest struct {
	Override string `json:"override"`
}

func (s *Server) setOverride(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	var req overrideRequest
	if err := bind(c, &req); err != nil {
		s.abort(c, err)
		return
	}
	override, err := auction.ParseOverride(req.Override)
	if err != nil {
		s.abort(c, err)
		return
	}
	p, err := track(s, c, "override", []string{c.Param("id"), req.Override}, func() (*auction.Property, error) {
		return s.deps.Catalog.SetOverride(c.Request.Context(), id, override)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type saleRequest struct {
	County    string  `json:"county"`
	SaleType  *string `json:"sale_type"`
	SaleDate  *string `json:"sale_date"`
	Status    *string `json:"status"`
	ClearDate bool    `json:"clear_date"`
}

func parseDate(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, *s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(auction.DateLayout, *s)
	if err != nil {
		return nil, fmt.Errorf("invalid sale_date %q: %w", *s, slerrors.ErrValidation)
	}
	return &t, nil
}

func (r saleRequest) update() (auction.SaleUpdate, error) {
	var u auction.SaleUpdate
	if r.SaleType != nil {
		t, err := auction.ParseSaleType(*r.SaleType)
		if err != nil {
			return u, err
		}
		u.Type = &t
	}
	if r.Status != nil {
		st, err := auction.ParseSaleStatus(*r.Status)
		if err != nil {
			return u, err
		}
		u.Status = &st
	}
	date, err := parseDate(r.SaleDate)
	if err != nil {
		return u, err
	}
	u.Date = date
	u.ClearDate = r.ClearDate
	return u, nil
}

func (s *Server) createSale(c *gin.Context) {
	var req saleRequest
	if err := bind(c, &req); err != nil {
		s.abort(c, err)
		return
	}
	if req.SaleType == nil {
		s.abort(c, fmt.Errorf("sale_type is required: %w", slerrors.ErrValidation))
		return
	}
	u, err := req.update()
	if err != nil {
		s.abort(c, err)
		return
	}
	ns := auction.NewSale{County: req.County, Type: *u.Type, Date: u.Date}
	if u.Status != nil {
		ns.Status = *u.Status
	}
	sale, err := track(s, c, "sale create", []string{req.County, string(ns.Type)}, func() (*auction.Sale, error) {
		return s.deps.Catalog.CreateSale(c.Request.Context(), ns)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

func (s *Server) listSales(c *gin.Context) {
	county := c.Query("county")
	if county == "" {
		s.abort(c, fmt.Errorf("county is required: %w", slerrors.ErrValidation))
		return
	}
	sales, err := s.deps.Catalog.Sales(c.Request.Context(), county)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sales": sales})
}

func (s *Server) updateSale(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	var req saleRequest
	if err := bind(c, &req); err != nil {
		s.abort(c, err)
		return
	}
	u, err := req.update()
	if err != nil {
		s.abort(c, err)
		return
	}
	change, err := track(s, c, "sale update", []string{c.Param("id")}, func() (*catalog.SaleChange, error) {
		return s.deps.Catalog.UpdateSale(c.Request.Context(), id, u)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (s *Server) deleteSale(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	change, err := track(s, c, "sale delete", []string{c.Param("id")}, func() (*catalog.SaleChange, error) {
		return s.deps.Catalog.DeleteSale(c.Request.Context(), id)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, change)
}

func (s *Server) breakdown(c *gin.Context) {
	out, err := s.deps.Catalog.Breakdown(c.Request.Context(), c.Query("county"))
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counties": out})
}

type reconcileRequest struct {
	County   string `json:"county"`
	Limit    int    `json:"limit"`
	AfterID  int64  `json:"after_id"`
	PageSize int    `json:"page_size"`
}

func (s *Server) bulkLink(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			s.abort(c, err)
			return
		}
	}
	if req.Limit < 0 || req.AfterID < 0 || req.PageSize < 0 {
		s.abort(c, fmt.Errorf("limit, after_id and page_size must not be negative: %w", slerrors.ErrValidation))
		return
	}
	summary, err := track(s, c, "reconcile bulk", []string{req.County}, func() (*reconcile.Summary, error) {
		return s.deps.Reconciler.BulkLink(c.Request.Context(), reconcile.Options{
			County:   req.County,
			Limit:    req.Limit,
			AfterID:  req.AfterID,
			PageSize: req.PageSize,
		})
	})
	if err != nil {
		// The partial summary is still useful to the caller.
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) recomputeStatuses(c *gin.Context) {
	var req reconcileRequest
	if c.Request.ContentLength > 0 {
		if err := bind(c, &req); err != nil {
			s.abort(c, err)
			return
		}
	}
	summary, err := track(s, c, "reconcile statuses", []string{req.County}, func() (*reconcile.AuditSummary, error) {
		return s.deps.Reconciler.RecomputeStatuses(c.Request.Context(), reconcile.AuditOptions{
			County:   req.County,
			AfterID:  req.AfterID,
			PageSize: req.PageSize,
		})
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) workQueue(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.abort(c, err)
		return
	}
	items, err := s.deps.Research.WorkQueue(c.Request.Context(), limit)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) queueUnlinked(c *gin.Context) {
	summary, err := track(s, c, "research queue", nil, func() (*research.QueueSummary, error) {
		return s.deps.Research.QueueUnlinked(c.Request.Context())
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) listEntries(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		s.abort(c, err)
		return
	}
	f := auction.QueueFilter{County: c.Query("county"), Limit: limit}
	if v := c.Query("status"); v != "" {
		st, err := auction.ParseQueueStatus(v)
		if err != nil {
			s.abort(c, err)
			return
		}
		f.Status = &st
	}
	entries, err := s.deps.Research.Entries(c.Request.Context(), f)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (s *Server) getEntry(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	e, err := s.deps.Research.Entry(c.Request.Context(), id)
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entry": e, "description": auction.Describe(*e)})
}

type assignRequest struct {
	Agent string `json:"agent"`
}

func (s *Server) assign(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	var req assignRequest
	if err := bind(c, &req); err != nil {
		s.abort(c, err)
		return
	}
	res, err := track(s, c, "research assign", []string{c.Param("id"), req.Agent}, func() (*research.AssignResult, error) {
		return s.deps.Research.Assign(c.Request.Context(), id, req.Agent)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type resolveRequest struct {
	SaleID int64  `json:"sale_id"`
	Notes  string `json:"notes"`
}

func (s *Server) resolve(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	var req resolveRequest
	if err := bind(c, &req); err != nil {
		s.abort(c, err)
		return
	}
	if req.SaleID <= 0 {
		s.abort(c, fmt.Errorf("sale_id is required: %w", slerrors.ErrValidation))
		return
	}
	res, err := track(s, c, "research resolve", []string{c.Param("id"), strconv.FormatInt(req.SaleID, 10)}, func() (*research.ResolveResult, error) {
		return s.deps.Research.Resolve(c.Request.Context(), id, req.SaleID, req.Notes)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) failEntry(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		s.abort(c, err)
		return
	}
	var req failRequest
	if err := bind(c, &req); err != nil {
		s.abort(c, err)
		return
	}
	res, err := track(s, c, "research fail", []string{c.Param("id"), req.Reason}, func() (*research.FailResult, error) {
		return s.deps.Research.Fail(c.Request.Context(), id, req.Reason)
	})
	if err != nil {
		s.abort(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
