// Package commands implements the meal-plan operator CLI. Every command
// runs against the same configuration and storage as the HTTP API.
package commands
