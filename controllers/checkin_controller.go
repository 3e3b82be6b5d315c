package controllers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cppla/dailycheckin/middleware"
	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/utils"
)

// multipart overhead allowed on top of the images themselves
const formOverhead = 1 << 20

// CheckInController records, lists and removes check-ins.
type CheckInController struct {
	checkIns *services.CheckInService
	media    *services.MediaService
}

// NewCheckInController creates a new controller instance.
func NewCheckInController(svc *services.Services) *CheckInController {
	return &CheckInController{checkIns: svc.CheckIns, media: svc.Media}
}

type checkInRequest struct {
	Note     string `json:"note" form:"note"`
	Location string `json:"location" form:"location"`
}

// CreateCheckIn accepts JSON or a multipart form carrying up to the
// configured number of files in the "images" field.
func (c *CheckInController) CreateCheckIn(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	var req checkInRequest
	var uploads []services.ImageUpload
	if strings.HasPrefix(ctx.ContentType(), "multipart/") {
		maxBytes := c.media.MaxImageBytes()*int64(max(c.media.MaxPerCheckIn(), 1)) + formOverhead
		ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxBytes)
		form, err := ctx.MultipartForm()
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				utils.Error(ctx, http.StatusRequestEntityTooLarge, 41301, "request body too large")
				return
			}
			utils.Error(ctx, http.StatusBadRequest, 40020, "invalid multipart form")
			return
		}
		req.Note = firstValue(form.Value["note"])
		req.Location = firstValue(form.Value["location"])
		files := form.File["images"]
		if err := c.media.CheckCount(len(files)); err != nil {
			respondError(ctx, err, 50020, "failed to create check-in")
			return
		}
		for _, fh := range files {
			data, err := readUpload(fh, c.media.MaxImageBytes())
			if err != nil {
				utils.Error(ctx, http.StatusBadRequest, 40021, "failed to read "+fh.Filename)
				return
			}
			uploads = append(uploads, services.ImageUpload{Filename: fh.Filename, Data: data})
		}
	} else if ctx.Request.ContentLength != 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			utils.Error(ctx, http.StatusBadRequest, 40022, "invalid request payload")
			return
		}
	}

	res, err := c.checkIns.Create(ctx.Request.Context(), userID, projectID, services.CheckInInput{
		Note:     req.Note,
		Location: req.Location,
		Images:   uploads,
		TZ:       middleware.Location(ctx),
	})
	if err != nil {
		respondError(ctx, err, 50020, "failed to create check-in")
		return
	}
	invalidateProjectCache(projectID)
	utils.Created(ctx, res)
}

func firstValue(vs []string) string {
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// readUpload reads at most limit+1 bytes so oversized files are still
// reported per image by the media service.
func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, limit+1))
}

// ListCheckIns returns the check-ins in a project the caller may see.
func (c *CheckInController) ListCheckIns(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	page, pageSize := parsePagination(ctx.Query("page"), ctx.Query("page_size"))
	items, total, err := c.checkIns.ListVisible(ctx.Request.Context(), userID, projectID, page, pageSize)
	if err != nil {
		respondError(ctx, err, 50021, "failed to list check-ins")
		return
	}
	utils.Paged(ctx, items, utils.NewPagination(page, pageSize, total))
}

// TodayStatus reports whether the caller has checked in today.
func (c *CheckInController) TodayStatus(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	projectID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	st, err := c.checkIns.Today(ctx.Request.Context(), userID, projectID, middleware.Location(ctx))
	if err != nil {
		respondError(ctx, err, 50022, "failed to load today's status")
		return
	}
	utils.Success(ctx, st)
}

// GetCheckIn returns one check-in if the caller may see it.
func (c *CheckInController) GetCheckIn(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	view, err := c.checkIns.Get(ctx.Request.Context(), userID, id)
	if err != nil {
		respondError(ctx, err, 50023, "failed to get check-in")
		return
	}
	utils.Success(ctx, view)
}

// ListImages returns signed URLs for a check-in's images.
func (c *CheckInController) ListImages(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	urls, err := c.checkIns.Images(ctx.Request.Context(), userID, id)
	if err != nil {
		respondError(ctx, err, 50024, "failed to sign image urls")
		return
	}
	utils.Success(ctx, gin.H{"items": urls})
}

// DeleteCheckIn removes the caller's own check-in.
func (c *CheckInController) DeleteCheckIn(ctx *gin.Context) {
	userID, ok := requireUser(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	view, err := c.checkIns.Get(ctx.Request.Context(), userID, id)
	if err != nil {
		respondError(ctx, err, 50025, "failed to delete check-in")
		return
	}
	if err := c.checkIns.Delete(ctx.Request.Context(), userID, id); err != nil {
		respondError(ctx, err, 50025, "failed to delete check-in")
		return
	}
	invalidateProjectCache(view.ProjectID)
	utils.Success(ctx, gin.H{"message": "deleted"})
}
