// Package minio provides a BlobStore implementation using the MinIO client.
//
// MinIO is a high-performance, S3-compatible object storage system. This package
// uses the official MinIO Go client library and works with other S3-compatible
// systems like Ceph, SeaweedFS and Garage.
//
// # Basic Usage
//
//	store, err := minio.Connect(minio.ConnectConfig{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	}, "my-bucket", "segments/")
//
// An existing *minio.Client can be wrapped with NewStore.
package minio
