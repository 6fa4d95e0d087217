// Package workflow models the ComfyUI API ("prompt") JSON format and
// performs parameter substitution into a static workflow template.
//
// A workflow is a flat map of node id to node, where each node names a
// class type and carries an inputs map. Input values are either literals
// (widget values) or links: two-element arrays of [source node id, slot].
// The package substitutes generation parameters by following the actual
// graph wiring rather than node titles, so retitled or rearranged
// templates keep working as long as the class types are wired sanely.
package workflow
