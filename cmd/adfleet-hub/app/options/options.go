package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/adfleet/internal/hub"
	"github.com/autopeer-io/adfleet/pkg/app"
	"github.com/autopeer-io/adfleet/pkg/log"
	"github.com/autopeer-io/adfleet/pkg/options"
)

type HubOptions struct {
	HttpOptions  *options.HttpOptions  `json:"http" mapstructure:"http"`
	FleetOptions *options.FleetOptions `json:"fleet" mapstructure:"fleet"`
	StoreOptions *options.StoreOptions `json:"store" mapstructure:"store"`
	MqttOptions  *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	S3Options    *options.S3Options    `json:"s3" mapstructure:"s3"`
	Log          *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*HubOptions)(nil)

func NewHubOptions() *HubOptions {
	o := &HubOptions{
		HttpOptions:  options.NewHttpOptions(),
		FleetOptions: options.NewFleetOptions(),
		StoreOptions: options.NewStoreOptions(),
		MqttOptions:  options.NewMqttOptions(),
		S3Options:    options.NewS3Options(),
		Log:          log.NewOptions(),
	}

	return o
}

func (o *HubOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.FleetOptions.AddFlags(fss.FlagSet("fleet"))
	o.StoreOptions.AddFlags(fss.FlagSet("store"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *HubOptions) Complete() error {
	return nil
}

func (o *HubOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.FleetOptions.Validate()...)
	errs = append(errs, o.StoreOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *HubOptions) Config() (*hub.Config, error) {
	return &hub.Config{
		HttpOptions:  o.HttpOptions,
		FleetOptions: o.FleetOptions,
		StoreOptions: o.StoreOptions,
		MqttOptions:  o.MqttOptions,
		S3Options:    o.S3Options,
	}, nil
}
