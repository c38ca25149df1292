// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package userdata decodes user-data and vendor-data blobs.
//
// A blob may be gzip compressed and may be a MIME multipart document. Each
// part is classified by its first line, falling back to its declared
// Content-Type:
//
//	#cloud-config      YAML configuration, merged as a layer
//	{ ... }            JSON configuration (comments and trailing commas allowed)
//	#!                 script, run by the runcmd module
//	#cloud-boothook    boothook, run early in every boot
//	#include           not supported, ignored with a warning
//
// Cloud-config parts become merge.Layer values named "<source>[n]" in
// document order.
package userdata
