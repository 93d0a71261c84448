package router

import (
	"github.com/beego/beego/v2/server/web"

	"github.com/aihub/docqa/app/controllers"
)

// Init registers all routes. Must be called after the container is initialized.
func Init(factory *controllers.ControllerFactory) error {
	return Register(web.BeeApp.Handlers, factory)
}

// Register 在指定的路由表上注册全部路由
func Register(reg *web.ControllerRegister, factory *controllers.ControllerFactory) error {
	health, err := factory.CreateHealthController()
	if err != nil {
		return err
	}
	reg.Add("/health", health, web.WithRouterMethods(health, "get:Health"))

	metricsController, err := factory.CreateMetricsController()
	if err != nil {
		return err
	}
	reg.Add("/metrics", metricsController, web.WithRouterMethods(metricsController, "get:Metrics"))

	index, err := factory.CreateIndexController()
	if err != nil {
		return err
	}
	reg.Add("/index", index, web.WithRouterMethods(index, "post:Index"))

	query, err := factory.CreateQueryController()
	if err != nil {
		return err
	}
	reg.Add("/query", query, web.WithRouterMethods(query, "post:Query"))
	reg.Add("/search", query, web.WithRouterMethods(query, "post:Search"))

	documents, err := factory.CreateDocumentController()
	if err != nil {
		return err
	}
	reg.Add("/documents", documents, web.WithRouterMethods(documents, "get:List;delete:Delete"))

	return nil
}
