// Package cloud registers things with the cloud platform.
//
// Two REST hosts are involved. The connect host issues and refreshes
// session tokens; the thing manager host creates things and returns the
// client certificates a thing uses to reach the broker.
//
//	client, _ := cloud.NewClient(cfg.Cloud, logger)
//	tokens := cloud.NewTokenManager(client, cfg.Cloud.Auth.TokenFile, logger)
//	certs := cloud.NewCertificateStore(cfg.Certificates.Dir, registry)
//	registrar := cloud.NewRegistrar(cloud.RegistrarOptions{
//	    Registry:     registry,
//	    Tokens:       tokens,
//	    Creator:      cloud.NewCreator(client),
//	    Certificates: certs,
//	})
//
// Every request goes through a circuit breaker. Transport failures and 5xx
// responses count against it; a tripped breaker fails fast with
// ErrCircuitOpen.
package cloud
