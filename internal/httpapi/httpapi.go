// Package httpapi exposes the engine's REST surface: thin gin
// handlers that bind a request, delegate to the planning service or the
// Execution Supervisor, and translate the result (or an *apperror.Error)
// into a JSON response. No business logic lives here.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"routeplan/internal/domain"
	"routeplan/internal/execution"
	"routeplan/internal/historymat"
	"routeplan/internal/officefallback"
	"routeplan/internal/parcelstore"
	"routeplan/internal/planservice"
	"routeplan/internal/report"
	"routeplan/internal/routestore"
	"routeplan/internal/statsquery"
	"routeplan/pkg/apperror"
	"routeplan/pkg/authctx"
)

// Handler groups the engine's HTTP endpoints over its service layer.
type Handler struct {
	plan    *planservice.Service
	exec    *execution.Supervisor
	history *historymat.Materializer
	stats   *statsquery.Facade
	parcels parcelstore.Store
	routes  routestore.Store
}

// New builds a Handler over the service layer it fronts.
func New(plan *planservice.Service, exec *execution.Supervisor, history *historymat.Materializer, stats *statsquery.Facade, parcels parcelstore.Store, routes routestore.Store) *Handler {
	return &Handler{plan: plan, exec: exec, history: history, stats: stats, parcels: parcels, routes: routes}
}

func respondError(c *gin.Context, err error) {
	code := apperror.Code(err)
	c.JSON(apperror.ToHTTPStatus(code), apperror.ToHTTPBody(err))
}

func companyID(c *gin.Context) (string, bool) {
	claims, ok := authctx.FromContext(c.Request.Context())
	if !ok {
		return "", false
	}
	return claims.CompanyID, true
}

// createPlanRequest is the payload for POST /route/.
type createPlanRequest struct {
	Drivers []string `json:"drivers" binding:"required,min=1"`
}

// CreatePlan runs the clusterer/allocator/assembler pipeline for a
// company's day and starts every resulting route.
func (h *Handler) CreatePlan(c *gin.Context) {
	var req createPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cid, ok := companyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	routes, err := h.plan.CreatePlan(c.Request.Context(), cid, req.Drivers, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"routes": routes})
}

// assignManualRequest is the payload for POST /route/assign/.
type assignManualRequest struct {
	DriverUsername   string   `json:"driverUsername" binding:"required"`
	TruckLicensePlate string  `json:"truckLicensePlate" binding:"required"`
	PackageSequence  []string `json:"packageSequence" binding:"required,min=1"`
}

// AssignManual persists a manager-prepared single route without running
// the clusterer or allocator.
func (h *Handler) AssignManual(c *gin.Context) {
	var req assignManualRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cid, ok := companyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	parcels, err := h.parcels.ListByIDs(c.Request.Context(), req.PackageSequence)
	if err != nil {
		respondError(c, err)
		return
	}

	route, err := h.plan.AssignManual(c.Request.Context(), cid, req.DriverUsername, req.TruckLicensePlate, parcels, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, route)
}

type driverRequest struct {
	Username string `json:"username" binding:"required"`
}

// GetByDriver returns a driver's active route projection.
func (h *Handler) GetByDriver(c *gin.Context) {
	var req driverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := h.exec.CheckStatus(c.Request.Context(), req.Username, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	if status.ActiveRoute == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "driver has no active route"})
		return
	}
	c.JSON(http.StatusOK, status.ActiveRoute)
}

type finishRequest struct {
	Username      string   `json:"username" binding:"required"`
	DurationHours *float64 `json:"duration_hours"`
}

// Finish deactivates the driver's active route and materializes history.
func (h *Handler) Finish(c *gin.Context) {
	var req finishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	duration := 0.0
	if req.DurationHours != nil {
		duration = *req.DurationHours
	}
	history, err := h.exec.FinishJourney(c.Request.Context(), req.Username, duration)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

type returnRequest struct {
	Username    string  `json:"username"`
	CurrentLat  float64 `json:"currentLat" binding:"required"`
	CurrentLng  float64 `json:"currentLng" binding:"required"`
	DefaultLat  float64 `json:"defaultLat"`
	DefaultLng  float64 `json:"defaultLng"`
}

// Return recalculates the driver's route home, then finalizes the journey.
func (h *Handler) Return(c *gin.Context) {
	var req returnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	current := domain.Coordinate{Lat: req.CurrentLat, Lon: req.CurrentLng}
	route, err := h.exec.Recalculate(c.Request.Context(), req.Username, current)
	if err != nil {
		respondError(c, err)
		return
	}
	history, err := h.exec.FinishJourney(c.Request.Context(), req.Username, 0)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": route, "history": history})
}

type recalculateRequest struct {
	Username   string  `json:"username" binding:"required"`
	CurrentLat float64 `json:"currentLat" binding:"required"`
	CurrentLng float64 `json:"currentLng" binding:"required"`
}

// Recalculate refreshes path_geometry for the driver's remaining stops.
func (h *Handler) Recalculate(c *gin.Context) {
	var req recalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	current := domain.Coordinate{Lat: req.CurrentLat, Lon: req.CurrentLng}
	route, err := h.exec.Recalculate(c.Request.Context(), req.Username, current)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, route)
}

// CheckDriverStatus reports available/active/completed_today for a driver.
func (h *Handler) CheckDriverStatus(c *gin.Context) {
	var req driverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, err := h.exec.CheckStatus(c.Request.Context(), req.Username, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}

	switch {
	case status.ActiveRoute != nil:
		c.JSON(http.StatusOK, gin.H{
			"state":       "active",
			"route":       status.ActiveRoute,
			"pending":     status.Pending,
			"delivered":   status.Delivered,
			"undelivered": status.Undelivered,
		})
	case status.CompletedToday:
		c.JSON(http.StatusOK, gin.H{"state": "completed_today"})
	default:
		c.JSON(http.StatusOK, gin.H{"state": "available"})
	}
}

// DropAll performs the administrative reset of every active route for the
// caller's company.
func (h *Handler) DropAll(c *gin.Context) {
	cid, ok := companyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	count, err := h.exec.DropAll(c.Request.Context(), cid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"routes_dropped": count})
}

type markDeliveredRequest struct {
	PackageID      string `json:"packageID" binding:"required"`
	Signature      string `json:"signature"`
	DriverUsername string `json:"driver_username"`
}

// MarkDelivered advances a parcel to delivered.
func (h *Handler) MarkDelivered(c *gin.Context) {
	var req markDeliveredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	parcel, err := h.exec.OnDelivered(c.Request.Context(), req.DriverUsername, req.PackageID, req.Signature)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, parcel)
}

type markUndeliveredRequest struct {
	PackageID      string `json:"packageID" binding:"required"`
	DriverUsername string `json:"driver_username"`
}

// MarkUndelivered advances a parcel to undelivered and assigns the nearest
// fallback office.
func (h *Handler) MarkUndelivered(c *gin.Context) {
	var req markUndeliveredRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	parcel, err := h.exec.OnUndelivered(c.Request.Context(), req.DriverUsername, req.PackageID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, parcel)
}

type officeDeliveryRequest struct {
	DriverUsername string   `json:"driver_username" binding:"required"`
	OfficeRef      string   `json:"office_ref" binding:"required"`
	ParcelIDs      []string `json:"parcel_ids" binding:"required,min=1"`
	RouteRef       string   `json:"route_ref"`
}

// OfficeDelivery records a driver's office drop-off batch.
func (h *Handler) OfficeDelivery(c *gin.Context) {
	var req officeDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.exec.RecordOfficeDropoff(c.Request.Context(), req.DriverUsername, req.OfficeRef, req.ParcelIDs, req.RouteRef); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recorded": len(req.ParcelIDs)})
}

type optimizeOfficeRequest struct {
	DriverUsername string  `json:"driver_username" binding:"required"`
	CurrentLat     float64 `json:"currentLat" binding:"required"`
	CurrentLng     float64 `json:"currentLng" binding:"required"`
}

// OptimizeOffice groups a driver's undropped office-bound parcels and asks
// the routing engine for a visit order over the offices still owed a stop.
func (h *Handler) OptimizeOffice(c *gin.Context) {
	var req optimizeOfficeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.exec.CheckStatus(c.Request.Context(), req.DriverUsername, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	var parcels []*domain.Parcel
	if status.ActiveRoute != nil {
		ids := status.ActiveRoute.ParcelIDs()
		parcels, err = h.parcels.ListByIDs(c.Request.Context(), ids)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	groups, err := h.exec.SuggestOfficeRoute(c.Request.Context(), req.DriverUsername, parcels)
	if err != nil {
		respondError(c, err)
		return
	}
	current := domain.Coordinate{Lat: req.CurrentLat, Lon: req.CurrentLng}
	trip, err := h.exec.OptimizeOfficeRoute(c.Request.Context(), current, groups)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": toOfficeGroupResponse(groups), "trip": trip})
}

type officeGroupResponse struct {
	Office  *domain.Office    `json:"office"`
	Parcels []*domain.Parcel  `json:"parcels"`
}

func toOfficeGroupResponse(groups []officefallback.OfficeGroup) []officeGroupResponse {
	out := make([]officeGroupResponse, len(groups))
	for i, g := range groups {
		out[i] = officeGroupResponse{Office: g.Office, Parcels: g.Parcels}
	}
	return out
}

// History returns the last N days of materialized delivery history for the
// caller's company, optionally rendered as a CSV or Excel export.
func (h *Handler) History(c *gin.Context) {
	cid, ok := companyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	days := 7
	if raw := c.Query("days"); raw != "" {
		if n, err := parsePositiveInt(raw); err == nil {
			days = n
		}
	}

	rows, err := h.history.LastNDays(c.Request.Context(), cid, days, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}

	format := report.Format(c.Query("format"))
	if format == "" {
		c.JSON(http.StatusOK, gin.H{"days": rows})
		return
	}

	flattened := aggregatesToHistory(rows)
	body, err := report.ExportHistory(format, flattened)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, format.ContentType(), body)
}

// manifestQuery is the query payload for GET /history/manifest/.
type manifestQuery struct {
	Driver string `form:"driver" binding:"required"`
}

// Manifest renders a driver's most recently created route as a PDF
// end-of-day delivery manifest, paired with that route's materialized
// delivery history summary when one has been recorded yet.
func (h *Handler) Manifest(c *gin.Context) {
	var q manifestQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cid, ok := companyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}

	route, err := h.routes.GetByDriver(c.Request.Context(), q.Driver)
	if err != nil {
		if err == routestore.ErrNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "driver has no route on record"})
			return
		}
		respondError(c, err)
		return
	}
	if route.CompanyID != cid {
		c.JSON(http.StatusNotFound, gin.H{"error": "driver has no route on record"})
		return
	}

	rows, err := h.history.DateDetail(c.Request.Context(), cid, route.CreationDate)
	if err != nil {
		respondError(c, err)
		return
	}
	var historyRow *domain.DeliveryHistory
	for _, r := range rows {
		if r.DriverRef == route.DriverRef {
			historyRow = r
			break
		}
	}

	body, err := report.GeneratePDF(route, historyRow)
	if err != nil {
		respondError(c, err)
		return
	}
	c.Data(http.StatusOK, report.FormatPDF.ContentType(), body)
}

func aggregatesToHistory(rows []historymat.DayAggregate) []*domain.DeliveryHistory {
	out := make([]*domain.DeliveryHistory, len(rows))
	for i, r := range rows {
		out[i] = &domain.DeliveryHistory{
			Date:             r.Date,
			DriverRef:        r.DriverRef,
			TruckRef:         r.TruckRef,
			DeliveredCount:   r.DeliveredCount,
			DeliveredKilos:   r.DeliveredKilos,
			UndeliveredCount: r.UndeliveredCount,
			UndeliveredKilos: r.UndeliveredKilos,
			DurationHours:    r.DurationHours,
			RouteRef:         r.RouteRef,
		}
	}
	return out
}

// Dashboard returns the caller's company-level operational snapshot for a
// given day: active routes, verified drivers, and pending parcels
// item 10, the Statistics & Query façade's read-only dashboard projection).
func (h *Handler) Dashboard(c *gin.Context) {
	cid, ok := companyID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing caller identity"})
		return
	}
	dashboard, err := h.stats.CompanyDashboard(c.Request.Context(), cid, time.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

func parsePositiveInt(s string) (int, error) {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, apperror.New(apperror.CodeInvalidArgument, "days must be a positive integer")
		}
		n = n*10 + int(r-'0')
	}
	if n <= 0 {
		return 0, apperror.New(apperror.CodeInvalidArgument, "days must be a positive integer")
	}
	return n, nil
}
