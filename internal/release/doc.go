// SPDX-License-Identifier: MPL-2.0

// Package release reads GitHub-style release feeds.
//
// A feed is a URL that answers GET with one release object or an array of
// release objects (newest first). Only the tag, the release notes body and
// the asset list are consumed. An asset named checksums.txt, in sha256sum
// format, enables verification of the other assets.
package release
