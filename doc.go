// Package outbox implements the transactional outbox pattern, ensuring reliable message delivery
// by first persisting messages within a database transaction before they are sent to a message broker.
//
// The core of the pattern involves two main operations:
//
//  1. Storing: Events are stored durably in an "outbox" table as part of the application's
//     local database transaction. This ensures that the event is captured atomically with
//     the business operation that produces it.
//
//  2. Processing: A background Processor claims stored messages, delivers them through a
//     Transport and records the outcome. Failed deliveries are retried up to a configurable
//     budget; messages that exhaust it are parked in a dead letter state for inspection.
//
// This package provides the following components to integrate this pattern:
//   - A `Store` to persist events into the outbox table alongside your application's
//     domain changes within a single transaction.
//   - A `Repository` contract (with a SQL reference implementation) whose atomic claim
//     operations let multiple processor instances share one table without duplicating work.
//   - A `Processor` background loop that polls the table, dispatches messages and drives
//     the retry and dead letter lifecycle.
//   - `Transport` implementations for in-process handlers and RabbitMQ.
//
// Delivery is at least once: the same message may be delivered more than once, so
// consumers must be idempotent. For detailed setup, features, and examples, please
// refer to the project README.
package outbox
