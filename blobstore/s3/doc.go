// Package s3 provides an S3 implementation of the blobstore.BlobStore interface.
//
// # Usage
//
//	store, err := s3.Connect(ctx, "my-bucket", "segments/", "us-east-1")
//
//	db, err := pagechain.Open(ctx, store, "orders.pgc")
//
// # Features
//
//   - Range reads for single-page fetches
//   - Multipart uploads for large segments
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
