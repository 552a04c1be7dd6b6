package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-storefront-checkout/internal/address"
	"github.com/imrishuroy/go-storefront-checkout/internal/auth"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

// AddressBook is implemented by *address.Store.
type AddressBook interface {
	Add(ctx context.Context, a *address.Address) error
	ListByUser(ctx context.Context, userID string) ([]address.Address, error)
}

// RegisterAddressRoutes registers the caller's address book. r must already
// require authentication.
func RegisterAddressRoutes(r gin.IRoutes, store AddressBook) {
	v := validation.New()

	r.GET("/addresses", func(c *gin.Context) {
		list, err := store.ListByUser(c.Request.Context(), auth.UserID(c))
		if err != nil {
			logger.Error(c.Request.Context(), "list addresses failed", err)
			errs.Write(c, err)
			return
		}
		if list == nil {
			list = []address.Address{}
		}
		c.JSON(http.StatusOK, gin.H{"addresses": list})
	})

	r.POST("/addresses", func(c *gin.Context) {
		var req validation.AddressRequest
		if err := validation.BindAndValidate(c, &req, v); err != nil {
			return
		}
		a := &address.Address{
			UserID:      auth.UserID(c),
			AddressLine: req.AddressLine,
			City:        req.City,
			State:       req.State,
			Zip:         req.Zip,
			Country:     req.Country,
		}
		err := store.Add(c.Request.Context(), a)
		switch {
		case errors.Is(err, address.ErrLimitReached):
			errs.Write(c, errs.E(errs.KindAddressLimit, fmt.Sprintf("at most %d addresses are allowed", address.MaxPerUser), nil))
			return
		case err != nil:
			logger.Error(c.Request.Context(), "add address failed", err)
			errs.Write(c, err)
			return
		}
		c.Header("Location", "/addresses/"+a.AddressID)
		c.JSON(http.StatusCreated, a)
	})
}
