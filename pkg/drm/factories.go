package drm

import (
	"context"

	"github.com/srediag/drm-plugin/api"
)

// factoryDescriptors lists the interface revisions probed during
// discovery, oldest first.
var factoryDescriptors = []string{
	api.CryptoFactoryDescriptorV1_0,
	api.CryptoFactoryDescriptorV1_1,
}

// MakeCryptoFactories resolves every registered factory instance for
// the known interface revisions. When nothing is registered it falls
// back to the default passthrough instance; a platform with no crypto
// service at all yields an empty set.
func MakeCryptoFactories(ctx context.Context, mgr api.ServiceManager) []api.CryptoFactory {
	var factories []api.CryptoFactory

	for _, descriptor := range factoryDescriptors {
		instances, err := mgr.ListByInterface(ctx, descriptor)
		if err != nil {
			internalLogger.Warnf("list %s: %v", descriptor, err)
			continue
		}
		for _, instance := range instances {
			f, err := mgr.GetFactory(ctx, descriptor, instance)
			if err != nil {
				internalLogger.Warnf("get %s %s: %v", descriptor, instance, err)
				continue
			}
			internalLogger.Debugf("found %s factory %s", descriptor, instance)
			factories = append(factories, f)
		}
	}

	if len(factories) == 0 {
		f, err := mgr.GetFactory(ctx, api.CryptoFactoryDescriptorV1_0, api.DefaultInstance)
		if err != nil {
			internalLogger.Errorf("failed to find any crypto factories")
			return nil
		}
		internalLogger.Infof("using default passthrough crypto instance")
		factories = append(factories, f)
	}
	return factories
}
