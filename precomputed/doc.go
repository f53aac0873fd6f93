/*
Package precomputed translates datasets of an N5 or Zarr array store into the neuroglancer
"precomputed" layout: volume info with a scale list, raw sub-volume chunks, segment
properties, and legacy mesh fragments.

Dataset paths may carry directives that are stripped before any store lookup:

	<name>_n5ngSetValue<N>   every positive voxel of returned data becomes N
	<name>_n5ngBinarize      every positive voxel of returned data becomes 1

Scale levels of a pyramid live at <name>/s<N> and are advertised with key "N".  Datasets
without a pyramid are advertised with the single key "1.0".  Geometry in info responses
is in x,y,z order while arrays are stored z,y,x; data payloads are little-endian with x
varying fastest.
*/
package precomputed
