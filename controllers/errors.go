package controllers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/dailycheckin/services"
	"github.com/cppla/dailycheckin/storage"
	"github.com/cppla/dailycheckin/utils"
)

type errorMapping struct {
	err    error
	status int
	code   int
}

var errorMappings = []errorMapping{
	{services.ErrNotFound, http.StatusNotFound, 40401},
	{services.ErrInvalidCredentials, http.StatusUnauthorized, 40106},
	{services.ErrForbidden, http.StatusForbidden, 40301},
	{services.ErrNotMember, http.StatusForbidden, 40302},
	{services.ErrProjectPrivate, http.StatusForbidden, 40303},
	{services.ErrNotFriends, http.StatusForbidden, 40304},
	{services.ErrDuplicate, http.StatusConflict, 40901},
	{services.ErrAlreadyCheckedIn, http.StatusConflict, 40902},
	{services.ErrAlreadyMember, http.StatusConflict, 40903},
	{services.ErrAlreadyFriends, http.StatusConflict, 40904},
	{services.ErrRequestPending, http.StatusConflict, 40905},
	{services.ErrInvitationPending, http.StatusConflict, 40906},
	{services.ErrJoinRequestPending, http.StatusConflict, 40907},
	{services.ErrNotPending, http.StatusConflict, 40908},
	{services.ErrCreatorCannotLeave, http.StatusConflict, 40909},
	{storage.ErrNotConfigured, http.StatusServiceUnavailable, 50301},
}

// respondError maps a service error onto the JSON envelope. Anything
// unrecognised is logged and answered with internalCode.
func respondError(ctx *gin.Context, err error, internalCode int, internalMsg string) {
	var verr *services.ValidationError
	if errors.As(err, &verr) {
		utils.Error(ctx, http.StatusBadRequest, 40001, verr.Error())
		return
	}
	for _, m := range errorMappings {
		if errors.Is(err, m.err) {
			utils.Error(ctx, m.status, m.code, m.err.Error())
			return
		}
	}
	utils.Logger.Error(internalMsg,
		zap.Error(err),
		zap.String("method", ctx.Request.Method),
		zap.String("path", ctx.FullPath()),
	)
	utils.Error(ctx, http.StatusInternalServerError, internalCode, internalMsg)
}
