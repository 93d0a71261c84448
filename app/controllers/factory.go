package controllers

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/dig"

	"github.com/aihub/docqa/internal/config"
	"github.com/aihub/docqa/internal/database"
	"github.com/aihub/docqa/internal/di"
	apperrors "github.com/aihub/docqa/internal/errors"
	"github.com/aihub/docqa/internal/knowledge"
)

// ControllerFactory 控制器工厂
type ControllerFactory struct {
	container *dig.Container
}

// NewControllerFactory 创建控制器工厂
func NewControllerFactory(container *dig.Container) *ControllerFactory {
	return &ControllerFactory{
		container: container,
	}
}

func (f *ControllerFactory) base() (BaseController, error) {
	var base BaseController
	err := f.container.Invoke(func(h *apperrors.ErrorHandler) {
		base.Errors = h
	})
	return base, err
}

// CreateIndexController 创建上传索引控制器
func (f *ControllerFactory) CreateIndexController() (*IndexController, error) {
	base, err := f.base()
	if err != nil {
		return nil, err
	}

	ctrl := &IndexController{BaseController: base}
	err = f.container.Invoke(func(cfg *config.Config, pipeline *knowledge.IndexingPipeline) {
		ctrl.Pipeline = pipeline
		ctrl.UploadDir = cfg.Server.UploadDir
		ctrl.MaxUploadSize = cfg.Server.MaxUploadSize
	})
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// CreateQueryController 创建检索问答控制器
func (f *ControllerFactory) CreateQueryController() (*QueryController, error) {
	base, err := f.base()
	if err != nil {
		return nil, err
	}

	ctrl := &QueryController{BaseController: base}
	err = f.container.Invoke(func(cfg *config.Config, retrieval *knowledge.RetrievalService) {
		ctrl.Retrieval = retrieval
		ctrl.DefaultTopK = cfg.Retrieval.DefaultTopK
		ctrl.MaxTopK = cfg.Retrieval.MaxTopK
	})
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// CreateDocumentController 创建文档控制器
func (f *ControllerFactory) CreateDocumentController() (*DocumentController, error) {
	base, err := f.base()
	if err != nil {
		return nil, err
	}

	ctrl := &DocumentController{BaseController: base}
	err = f.container.Invoke(func(pipeline *knowledge.IndexingPipeline, registry *database.Registry) {
		ctrl.Pipeline = pipeline
		// 未启用登记库时保持接口为nil
		if registry != nil {
			ctrl.Registry = registry
		}
	})
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// CreateHealthController 创建健康检查控制器
func (f *ControllerFactory) CreateHealthController() (*HealthController, error) {
	base, err := f.base()
	if err != nil {
		return nil, err
	}

	ctrl := &HealthController{BaseController: base}
	err = f.container.Invoke(func(checkers di.HealthCheckers) {
		ctrl.Checkers = checkers
	})
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}

// CreateMetricsController 创建指标控制器
func (f *ControllerFactory) CreateMetricsController() (*MetricsController, error) {
	ctrl := &MetricsController{}
	err := f.container.Invoke(func(reg *prometheus.Registry) {
		ctrl.Gatherer = reg
	})
	if err != nil {
		return nil, err
	}
	return ctrl, nil
}
