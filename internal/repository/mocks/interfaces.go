package mocks

import "github.com/jwalitptl/wa-connector/internal/repository"

var (
	_ repository.TxRunner               = (*TxRunner)(nil)
	_ repository.CompanyRepository      = (*CompanyRepository)(nil)
	_ repository.SubaccountRepository   = (*SubaccountRepository)(nil)
	_ repository.InstanceRepository     = (*InstanceRepository)(nil)
	_ repository.SubscriptionRepository = (*SubscriptionRepository)(nil)
	_ repository.InvoiceRepository      = (*InvoiceRepository)(nil)
	_ repository.ApiTokenRepository     = (*ApiTokenRepository)(nil)
	_ repository.OAuthStateRepository   = (*OAuthStateRepository)(nil)
	_ repository.InstallTokenRepository = (*InstallTokenRepository)(nil)
	_ repository.CRMTokenRepository     = (*CRMTokenRepository)(nil)
	_ repository.UserRepository         = (*UserRepository)(nil)
	_ repository.OutboxRepository       = (*OutboxRepository)(nil)
)
