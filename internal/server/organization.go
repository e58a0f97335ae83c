package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	billingdomain "github.com/smallshift/rosterly/internal/billing/domain"
	organizationdomain "github.com/smallshift/rosterly/internal/organization/domain"
)

type createOrganizationRequest struct {
	Name         string `json:"name" binding:"required"`
	TimezoneName string `json:"timezone_name"`
}

func (s *Server) HandleListOrganizations(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	orgs, err := s.organizationSvc.ListOrganizationsByUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"organizations": orgs})
}

func (s *Server) HandleGetOrganization(c *gin.Context) {
	if _, ok := currentUserID(c); !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	org, err := s.organizationSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}

func (s *Server) HandleCreateOrganization(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	resp, err := s.organizationSvc.Create(c.Request.Context(), userID, organizationdomain.CreateOrganizationRequest{
		Name:         req.Name,
		TimezoneName: req.TimezoneName,
	})
	if err != nil {
		var denied *billingdomain.GateDeniedError
		if errors.As(err, &denied) {
			c.AbortWithStatusJSON(http.StatusPaymentRequired, errorResponse{Error: s.mapGateDenied(denied)})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) HandleDeleteOrganization(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	resp, err := s.organizationSvc.Delete(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
