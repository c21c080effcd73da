// Package mfa implements TOTP second-factor enrollment and verification.
//
// Each account is in exactly one [State]:
//
//	NotConfigured --Setup--> PendingVerification --ConfirmSetup--> Active --Reset--> NotConfigured
//
// Activation is carried by an explicit flag rather than by the presence of a secret,
// so a stored but unconfirmed secret never bypasses login. Codes are accepted within
// ±Skew time steps of the engine clock.
package mfa
