package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/codechallenge/login-processing-service/internal/model"
	"github.com/codechallenge/login-processing-service/internal/repository"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v4"
)

func listLoginsHandler(chRepo repository.CHLoginsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		customerID, err := uuid.Parse(strings.TrimSpace(c.QueryParam("customer_id")))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "customer_id must be a UUID"})
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		var result model.RequestResult
		switch strings.ToUpper(strings.TrimSpace(c.QueryParam("result"))) {
		case "SUCCESSFUL":
			result = model.ResultSuccessful
		case "UNSUCCESSFUL":
			result = model.ResultUnsuccessful
		}

		rows, err := chRepo.ListByCustomer(c.Request().Context(), customerID, result, limit, offset)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
