package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/adfleet/internal/deviceagent"
	"github.com/autopeer-io/adfleet/pkg/app"
	"github.com/autopeer-io/adfleet/pkg/log"
	"github.com/autopeer-io/adfleet/pkg/options"
)

type AgentOptions struct {
	AgentOptions *options.AgentOptions `json:"agent" mapstructure:"agent"`
	Log          *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		AgentOptions: options.NewAgentOptions(),
		Log:          log.NewOptions(),
	}
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.AgentOptions.AddFlags(fss.FlagSet("agent"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.AgentOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*deviceagent.Config, error) {
	return &deviceagent.Config{
		AgentOptions: o.AgentOptions,
	}, nil
}
