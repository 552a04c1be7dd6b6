package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imrishuroy/go-storefront-checkout/internal/catalog"
	"github.com/imrishuroy/go-storefront-checkout/internal/errs"
	"github.com/imrishuroy/go-storefront-checkout/internal/logger"
	"github.com/imrishuroy/go-storefront-checkout/internal/validation"
)

// Catalog is implemented by *catalog.Store.
type Catalog interface {
	Get(ctx context.Context, productID string) (*catalog.Product, error)
	List(ctx context.Context, f catalog.Filter) ([]catalog.Product, error)
}

// RegisterProductRoutes registers the public catalog reads.
func RegisterProductRoutes(r gin.IRoutes, store Catalog) {
	v := validation.New()

	r.GET("/products", func(c *gin.Context) {
		var q validation.ProductQuery
		if err := validation.BindQueryAndValidate(c, &q, v); err != nil {
			return
		}
		list, err := store.List(c.Request.Context(), catalog.Filter{Category: q.Category, Section: q.Section, Sort: q.Sort})
		if err != nil {
			logger.Error(c.Request.Context(), "list products failed", err)
			errs.Write(c, err)
			return
		}
		if list == nil {
			list = []catalog.Product{}
		}
		c.JSON(http.StatusOK, gin.H{"products": list})
	})

	r.GET("/products/:id", func(c *gin.Context) {
		p, err := store.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			logger.Error(c.Request.Context(), "get product failed", err)
			errs.Write(c, err)
			return
		}
		if p == nil {
			errs.Write(c, errs.E(errs.KindNotFound, "product not found", nil))
			return
		}
		c.JSON(http.StatusOK, p)
	})
}
