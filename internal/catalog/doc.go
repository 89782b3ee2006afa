// Package catalog exposes the immutable set of purchasable generation packs.
package catalog
