// Package infra wraps the terraform CLI that creates and destroys testnet VMs.
//
// InfraRunOptions carries every countable or sizeable resource as an
// optional value. GenerateExisting rebuilds those options from
// `terraform show -json` so an upscale only has to change the dimensions it
// grows.
package infra
