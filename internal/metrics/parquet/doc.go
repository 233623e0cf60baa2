// Package parquet persists completed buckets as Parquet files.
//
// Completed buckets are flushed from memory into one file per flush
// cycle, named after the earliest window start they contain. The query
// engine reads these files back through DuckDB; the retention manager
// deletes them once they age past the file retention period.
package parquet
