package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/dukerupert/sindri/internal/handler/api"
	"github.com/dukerupert/sindri/internal/middleware"
)

// APIDeps contains dependencies for API routes
type APIDeps struct {
	Cart     *api.CartHandler
	Checkout *api.CheckoutHandler
	Orders   *api.OrderHandler

	Metrics *middleware.Metrics
}

// RegisterAPIRoutes wires every route onto the echo instance. Cart reads
// and anonymous mutations work without authentication; merge, checkout and
// orders require a verified user.
func RegisterAPIRoutes(e *echo.Echo, deps APIDeps) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		e.GET("/metrics", deps.Metrics.Handler())
	}

	cart := e.Group("/cart")
	cart.POST("/create", deps.Cart.Create)
	cart.POST("/get", deps.Cart.Get)
	cart.HEAD("/get", deps.Cart.Get)
	cart.POST("/add-item", deps.Cart.AddItem)
	cart.PATCH("/update-item", deps.Cart.UpdateItem)
	cart.DELETE("/remove-item", deps.Cart.RemoveItem)
	cart.POST("/clear", deps.Cart.Clear)
	cart.POST("/apply-coupon", deps.Cart.ApplyCoupon)
	cart.DELETE("/remove-coupon", deps.Cart.RemoveCoupon)

	// Read-side convenience endpoints; GET and POST both accepted so
	// clients without a cookie can pass the cart ID in the body.
	cart.GET("/count", deps.Cart.Count)
	cart.POST("/count", deps.Cart.Count)
	cart.GET("/items", deps.Cart.Items)
	cart.POST("/items", deps.Cart.Items)
	cart.GET("/price-summary", deps.Cart.PriceSummary)
	cart.POST("/price-summary", deps.Cart.PriceSummary)
	cart.GET("/summary", deps.Cart.Summary)
	cart.POST("/summary", deps.Cart.Summary)

	cart.POST("/merge", deps.Cart.Merge, middleware.RequireAuth())
	cart.POST("/start-checkout", deps.Checkout.Start, middleware.RequireAuth())

	orders := e.Group("/orders", middleware.RequireAuth())
	orders.POST("/create", deps.Orders.Create)
	orders.GET("/:id", deps.Orders.Get)
}
