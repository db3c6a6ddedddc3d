package routes

import (
	"context"

	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectoinject/ectocontainer"
	"github.com/Gobusters/ectoinject/loglevel"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/routes/link"
	"github.com/Ramsey-B/clover/pkg/routes/match"
	"github.com/Ramsey-B/clover/pkg/routes/record"
)

// Dependencies are the instances the record, link and match routes resolve per request.
type Dependencies struct {
	Logger    ectologger.Logger
	Records   record.Store
	Linker    record.Linker
	Links     link.Service
	Evaluator match.Evaluator
}

// NewContainer registers deps in a new dependency container under id.
// Nil dependencies stay unregistered and the routes that need them answer 500.
func NewContainer(id string, deps Dependencies) (ectocontainer.DIContainer, error) {
	config := ectocontainer.DIContainerConfig{
		ID:                       id,
		AllowCaptiveDependencies: true,
		LoggerConfig:             &ectocontainer.DIContainerLoggerConfig{Enabled: false},
	}
	if deps.Logger != nil {
		config.LoggerConfig = &ectocontainer.DIContainerLoggerConfig{
			Enabled: true,
			LogFunc: func(ctx context.Context, level, msg string) {
				if level == loglevel.WARN {
					deps.Logger.WithContext(ctx).Warn(msg)
					return
				}
				deps.Logger.WithContext(ctx).Debug(msg)
			},
		}
	}

	container, err := ectoinject.NewDIContainer(config)
	if err != nil {
		return nil, err
	}

	if deps.Logger != nil {
		if err := ectoinject.RegisterInstance[ectologger.Logger](container, deps.Logger); err != nil {
			return nil, err
		}
	}
	if deps.Records != nil {
		if err := ectoinject.RegisterInstance[record.Store](container, deps.Records); err != nil {
			return nil, err
		}
	}
	if deps.Linker != nil {
		if err := ectoinject.RegisterInstance[record.Linker](container, deps.Linker); err != nil {
			return nil, err
		}
	}
	if deps.Links != nil {
		if err := ectoinject.RegisterInstance[link.Service](container, deps.Links); err != nil {
			return nil, err
		}
	}
	if deps.Evaluator != nil {
		if err := ectoinject.RegisterInstance[match.Evaluator](container, deps.Evaluator); err != nil {
			return nil, err
		}
	}
	return container, nil
}
