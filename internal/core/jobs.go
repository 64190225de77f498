// Package core holds the ports between the services and their adapters plus small
// services that only orchestrate ports.
package core

import (
	"github.com/acme/shelfsort/internal/domain/model"
)

// QueueName identifies a durable job queue (re-exported from the model package).
// This is re-exported here for use in HTTP handlers to avoid direct coupling to the model package.
type QueueName = model.QueueName

// CreateJobRequest represents a request to create a new job (re-exported from the model package).
type CreateJobRequest = model.CreateJobRequest
