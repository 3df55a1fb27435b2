package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/circuscoach/backend/core/entitlement"
)

type adminApi struct {
	entSvc *entitlement.Service
}

func registerAdminAPI(g *echo.Group, jwt echo.MiddlewareFunc, entSvc *entitlement.Service) {
	api := adminApi{entSvc: entSvc}

	ag := g.Group("/admin", jwt, adminMiddleware())
	ag.GET("/users/:id/grants", api.userGrants)
}

func (api *adminApi) userGrants(ctx echo.Context) error {
	views, err := api.entSvc.Grants(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, views)
}
