package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/negotiation"
)

// respondError maps a domain error onto an HTTP status and JSON body
func respondError(c *gin.Context, err error) {
	var ineligible *negotiation.IneligiblePoolError
	var stale *negotiation.StaleStateError
	var outOfBounds *negotiation.OutOfBoundsOfferError

	switch {
	case errors.As(err, &ineligible):
		exclusions := make([]gin.H, 0, len(ineligible.Exclusions))
		for _, ex := range ineligible.Exclusions {
			exclusions = append(exclusions, gin.H{
				"seller_id": ex.SellerID,
				"reason":    ex.Reason,
			})
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      "no eligible sellers for this order",
			"exclusions": exclusions,
		})

	case errors.As(err, &stale):
		body := gin.H{
			"error":        "the order has already moved on",
			"order_id":     stale.OrderID,
			"order_status": stale.OrderStatus,
		}
		if stale.SellerID != "" {
			body["seller_id"] = stale.SellerID
			body["slot_status"] = stale.SlotStatus
		}
		c.JSON(http.StatusConflict, body)

	case errors.As(err, &outOfBounds):
		body := gin.H{
			"error": "offer price is out of bounds",
			"price": outOfBounds.Price,
			"min":   outOfBounds.Min,
		}
		if outOfBounds.Max > 0 {
			body["max"] = outOfBounds.Max
		}
		c.JSON(http.StatusBadRequest, body)

	case errors.Is(err, negotiation.ErrNotOrderBuyer):
		c.JSON(http.StatusForbidden, gin.H{
			"error": "order does not belong to this buyer",
		})

	case errors.Is(err, db.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})

	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
		})
	}
}
